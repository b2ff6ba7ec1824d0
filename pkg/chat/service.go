package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"ninochat/pkg/clients"
	"ninochat/pkg/config"
	"ninochat/pkg/database"
)

const appName = "ninochat"

const agentInstruction = `You are a friendly assistant that answers questions about the El Niño weather phenomenon.
Use the search_web tool to look up information before answering, the fetch_page tool to read a page when a search snippet is not enough, and the current_time tool when a question depends on the current date.
Answer concisely and name the sources you used.`

// Service drives the tool-calling agent. DB is optional; without one,
// conversations are transient and nothing is persisted.
type Service struct {
	config *config.Config
	DB     *database.PostgresDB
	pool   database.Querier
	Agent  agent.Agent
	Titler llms.Model
	Logger *slog.Logger
}

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent represents a single event in the chat stream
type StreamEvent struct {
	Type    string      `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload interface{} `json:"payload"`
}

func NewService(ctx context.Context, db *database.PostgresDB, cfg *config.Config, tools *WebToolset) (*Service, error) {
	modelClient, err := gemini.NewModel(ctx, cfg.ReasoningModel, &genai.ClientConfig{
		APIKey: cfg.GoogleApiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	ninoAgent, err := llmagent.New(llmagent.Config{
		Name:        appName,
		Model:       modelClient,
		Description: "An assistant that answers questions about El Niño with web search, page fetch and time tools.",
		Instruction: agentInstruction,
		Toolsets: []tool.Toolset{
			tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	titler, err := clients.GoogleAi(ctx, clients.ModelType(cfg.FastModel), cfg.GoogleApiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create titling client: %w", err)
	}

	svc := &Service{
		config: cfg,
		DB:     db,
		Agent:  ninoAgent,
		Titler: titler,
		Logger: slog.Default(),
	}
	if db != nil {
		svc.pool = db.Pool
	}
	return svc, nil
}

func (s *Service) CreateConversation(ctx context.Context) (*Conversation, error) {
	if s.pool == nil {
		now := time.Now()
		return &Conversation{ID: uuid.New(), Title: "New Conversation", CreatedAt: now, UpdatedAt: now}, nil
	}

	id := uuid.New()
	query := `INSERT INTO conversations (id) VALUES ($1) RETURNING id, title, created_at, updated_at`

	conv := &Conversation{}
	err := s.pool.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("no database configured")
	}

	query := `SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

func (s *Service) GetHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	if s.pool == nil {
		return nil, nil
	}

	query := `SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SaveQuestion persists the user's side of the next turn and returns the
// stored row ID. It runs once per question, before the agent call, so a
// rate-limited question resent later does not pick up its own first attempt
// as history. Without a database it returns uuid.Nil and does nothing.
func (s *Service) SaveQuestion(ctx context.Context, conversationID uuid.UUID, content string) (uuid.UUID, error) {
	if s.pool == nil {
		return uuid.Nil, nil
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'user', $3)`,
		id, conversationID, content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save user message: %w", err)
	}
	return id, nil
}

// priorTurns filters the stored transcript down to the turns that precede
// the question being asked now, identified by its row ID.
func priorTurns(history []Message, userMsgID uuid.UUID) []Message {
	var prior []Message
	for _, msg := range history {
		if msg.ID == userMsgID {
			continue
		}
		prior = append(prior, msg)
	}
	return prior
}

// Ask runs one question through the agent and returns the event stream. The
// assistant decides during the run whether and in which order to invoke its
// tools; the stream carries text fragments interleaved with tool activity.
// userMsgID names the row SaveQuestion stored for this question, so that
// asking the same question again keeps the hydrated context unchanged.
func (s *Service) Ask(ctx context.Context, conversationID uuid.UUID, content string, userMsgID uuid.UUID) (iter.Seq2[StreamEvent, error], error) {
	sessionSvc := session.InMemoryService()
	userID := "user"
	sessionID := conversationID.String()

	createRes, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	storedSession := createRes.Session

	// Hydrate prior turns so follow-up questions keep their context.
	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	for _, msg := range priorTurns(history, userMsgID) {
		role := "user"
		author := "user"
		if msg.Role == "model" {
			role = "model"
			author = appName
		}

		evt := session.NewEvent(uuid.NewString())
		evt.Author = author
		evt.LLMResponse = model.LLMResponse{
			Content: &genai.Content{
				Role: role,
				Parts: []*genai.Part{
					{Text: msg.Content},
				},
			},
		}

		if err := sessionSvc.AppendEvent(ctx, storedSession, evt); err != nil {
			return nil, fmt.Errorf("failed to append history event: %w", err)
		}
	}

	agentRunner, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          s.Agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role: "user",
		Parts: []*genai.Part{
			{Text: content},
		},
	}

	return func(yield func(StreamEvent, error) bool) {
		s.Logger.Debug("Starting agent run", "conversation_id", conversationID)
		runCfg := agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		}

		next := agentRunner.Run(ctx, userID, sessionID, userContent, runCfg)

		var finalResponse string

		for event, err := range next {
			if err != nil {
				s.Logger.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}

			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				if part.Text != "" {
					finalResponse += part.Text
					if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
						return
					}
				}
				if part.FunctionCall != nil {
					s.Logger.Info("Agent tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				}
				if part.FunctionResponse != nil {
					s.Logger.Info("Agent tool result", "tool", part.FunctionResponse.Name)
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
		}

		s.Logger.Debug("Agent run completed", "conversation_id", conversationID)

		if s.pool != nil {
			modelMsgID := uuid.New()
			_, err := s.pool.Exec(ctx,
				`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'model', $3)`,
				modelMsgID, conversationID, finalResponse)

			if err != nil {
				s.Logger.Error("Failed to save model message", "error", err)
			} else {
				_, _ = s.pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
			}

			// Title new conversations async, fire and forget.
			if len(history) <= 2 {
				go s.generateTitle(conversationID, content, finalResponse)
			}
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)
	}, nil
}

func (s *Service) generateTitle(convID uuid.UUID, userMsg, modelMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`Generate a short, concise title (max 5 words) for this chat conversation.
Respond with a JSON object of the form {"title": "..."}.

User: %s
Model: %s`, userMsg, modelMsg)

	resp, err := s.Titler.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithJSONMode())
	if err != nil {
		s.Logger.Error("Failed to generate conversation title", "error", err)
		return
	}
	if len(resp.Choices) == 0 {
		return
	}

	var respData struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Content), &respData); err != nil {
		s.Logger.Error("Failed to unmarshal title response", "error", err, "raw", resp.Choices[0].Content)
		return
	}

	if respData.Title != "" {
		if _, err := s.pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, respData.Title); err != nil {
			s.Logger.Error("Failed to update conversation title", "error", err)
		}
	}
}

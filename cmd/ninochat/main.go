package main

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ninochat/pkg/chat"
	"ninochat/pkg/config"
	"ninochat/pkg/database"
	"ninochat/pkg/fetch"
	"ninochat/pkg/retry"
	"ninochat/pkg/search"
)

const (
	questionPrompt = "What would you like to know about El Niño? "
	apology        = "I'm sorry, I wasn't able to come up with an answer to that. Please try again."
)

var oneShotQuestion string

func main() {
	// Structured logging on stderr so answers stream cleanly on stdout.
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "ninochat",
		Short: "A terminal chatbot for El Niño questions",
		Long:  `ninochat answers questions about the El Niño weather phenomenon using an LLM agent with web search, page fetch and clock tools.`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// A database is optional for the CLI; without one the
			// conversation is transient.
			var db *database.PostgresDB
			if cfg.DatabaseURL != "" {
				var err error
				db, err = database.NewPostgresDB(ctx, cfg.DatabaseURL)
				if err != nil {
					slog.Error("Failed to connect to database", "error", err)
					os.Exit(1)
				}
				defer db.Close()

				if err := db.InitSchema(ctx); err != nil {
					slog.Error("Failed to initialize schema", "error", err)
					os.Exit(1)
				}
			}

			backend := search.NewBrave(cfg.BraveApiKey)
			widener := search.NewWidener(backend, slog.Default())
			fetcher := fetch.NewWithTimeout(cfg.FetchTimeout)
			tools := chat.NewWebToolset(widener, fetcher, cfg.SearchCount)

			svc, err := chat.NewService(ctx, db, cfg, tools)
			if err != nil {
				slog.Error("Failed to init chat service", "error", err)
				os.Exit(1)
			}

			conv, err := svc.CreateConversation(ctx)
			if err != nil {
				slog.Error("Failed to create conversation", "error", err)
				os.Exit(1)
			}

			policy := &retry.Policy{
				Logger:      slog.Default(),
				MaxAttempts: cfg.MaxRetryAttempts,
			}

			if cmd.Flags().Changed("question") {
				if strings.TrimSpace(oneShotQuestion) == "" {
					slog.Error("--question flag provided but empty")
					os.Exit(1)
				}
				runQuestion(ctx, policy, svc, conv.ID, oneShotQuestion)
				return
			}

			// Interactive REPL; runs until the process is interrupted.
			reader := bufio.NewReader(os.Stdin)
			for {
				fmt.Print(questionPrompt)
				input, err := reader.ReadString('\n')
				if err != nil {
					return // stdin closed
				}
				question := strings.TrimSpace(input)
				if question == "" {
					continue
				}

				runQuestion(ctx, policy, svc, conv.ID, question)
				fmt.Println()
			}
		},
	}

	rootCmd.Flags().StringVarP(&oneShotQuestion, "question", "q", "", "Ask a single question and exit")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

// runQuestion streams one answer to stdout. Any failure is contained here:
// the user gets the apology, the log gets the detail, and the REPL goes on.
func runQuestion(ctx context.Context, policy *retry.Policy, svc *chat.Service, convID uuid.UUID, question string) {
	// Persist the question once, up front. A rate-limited resend of the
	// same question must not write a second transcript row.
	msgID, err := svc.SaveQuestion(ctx, convID, question)
	if err != nil {
		slog.Warn("Failed to persist question", "error", err)
	}
	ask := answerStream(svc, convID, msgID)

	outcome, _, err := policy.Ask(ctx, question, ask, os.Stdout)
	if outcome != retry.Succeeded {
		slog.Error("Question abandoned", "outcome", outcome.String(), "error", err)
		fmt.Fprintln(os.Stderr, apology)
		return
	}
	fmt.Println()
}

// answerStream adapts the agent's event stream to the retry policy's
// fragment stream, keeping only answer text.
func answerStream(svc *chat.Service, convID uuid.UUID, msgID uuid.UUID) retry.AskFunc {
	return func(ctx context.Context, question string) (iter.Seq2[string, error], error) {
		events, err := svc.Ask(ctx, convID, question, msgID)
		if err != nil {
			return nil, err
		}
		return func(yield func(string, error) bool) {
			for event, err := range events {
				if err != nil {
					yield("", err)
					return
				}
				if event.Type != "content" {
					continue
				}
				text, ok := event.Payload.(string)
				if !ok {
					continue
				}
				if !yield(text, nil) {
					return
				}
			}
		}, nil
	}
}

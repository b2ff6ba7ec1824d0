package clients

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType is an enum for the available Google AI models.
type ModelType string

const (
	// FastModel handles small auxiliary jobs such as titling conversations.
	FastModel ModelType = "gemini-3-flash-preview"
	ProModel  ModelType = "gemini-3-pro-preview"
)

// GoogleAi builds a langchaingo client for the given model. The API key is
// read from GOOGLE_API_KEY when apiKey is empty, and an empty model falls
// back to FastModel.
func GoogleAi(ctx context.Context, model ModelType, apiKey string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}

	if model == "" {
		model = FastModel
	}
	modelName := string(model)

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	return llm, nil
}

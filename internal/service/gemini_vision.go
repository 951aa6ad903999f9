package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const visionCallTimeout = 120 * time.Second

// GeminiVision implements VisionModel on Vertex AI Gemini.
type GeminiVision struct {
	client    *genai.Client
	modelName string
	logger    domain.Logger
}

// NewGeminiVision creates the Vertex AI client for the vision strategy.
func NewGeminiVision(ctx context.Context, projectID, location, modelName string, logger domain.Logger) (*GeminiVision, error) {
	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex ai client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash-001"
	}
	return &GeminiVision{client: client, modelName: modelName, logger: logger}, nil
}

func (g *GeminiVision) ExtractText(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, visionCallTimeout)
	defer cancel()

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.ImageData("jpeg", jpeg), genai.Text(prompt))
	if err != nil {
		return "", classifyVertexError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying gRPC connection.
func (g *GeminiVision) Close() error {
	return g.client.Close()
}

func classifyVertexError(err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return apperrors.NewRateLimitError("vertex ai quota exceeded", err)
	case codes.DeadlineExceeded:
		return apperrors.NewTimeoutError("vertex ai call timed out", err)
	}
	return fmt.Errorf("vertex ai generate: %w", err)
}

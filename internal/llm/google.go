package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"
)

// googleProvider implements Provider using the Google Generative AI SDK.
// A new genai.Client is created per Complete call so that the caller's context
// governs the connection and the client is always closed after use.
type googleProvider struct {
	apiKey string
	model  string
}

func newGoogleProvider(apiKey, model string) (Provider, error) {
	return &googleProvider{apiKey: apiKey, model: model}, nil
}

func (p *googleProvider) Complete(ctx context.Context, req Request) (string, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(p.apiKey))
	if err != nil {
		return "", fmt.Errorf("google: genai client: %w", err)
	}
	defer client.Close()

	system := req.System
	if req.Schema != nil {
		system += "\n\n" + schemaInstructions(req.Schema)
	}

	m := client.GenerativeModel(p.model)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	maxOut := int32(req.MaxTokens)
	m.MaxOutputTokens = &maxOut
	temp32 := float32(req.Temperature)
	m.Temperature = &temp32
	if req.Schema != nil {
		// JSON output mode keeps the model from wrapping the response in
		// markdown code fences.
		m.ResponseMIMEType = "application/json"
	}

	var parts []genai.Part
	if req.Image != nil {
		// ImageData takes the subtype only ("png", "jpeg").
		parts = append(parts, genai.ImageData(strings.TrimPrefix(req.Image.MIME, "image/"), req.Image.Data))
	}
	parts = append(parts, genai.Text(req.User))

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("google: generate content: %w", err)
	}

	var out []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				out = append(out, string(t))
			}
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("google: response contained no text content")
	}
	return strings.Join(out, ""), nil
}

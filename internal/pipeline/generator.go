package pipeline

import "context"

// GenerateClient is the slice of the Ollama client the pipeline needs for
// answer generation.
type GenerateClient interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

// ModelGenerator binds a generation client to a fixed model name.
type ModelGenerator struct {
	client GenerateClient
	model  string
}

// NewModelGenerator creates a Generator using the given client and model.
func NewModelGenerator(client GenerateClient, model string) *ModelGenerator {
	return &ModelGenerator{client: client, model: model}
}

// Generate produces the answer text for a prompt.
func (g *ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.client.Generate(ctx, g.model, prompt)
}

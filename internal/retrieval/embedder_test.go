package retrieval

import (
	"context"
	"errors"
	"testing"
)

type mockEmbedClient struct {
	embedFunc func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEmbedClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return m.embedFunc(ctx, model, text)
}

func TestEmbedderBindsModel(t *testing.T) {
	client := &mockEmbedClient{
		embedFunc: func(_ context.Context, model, text string) ([]float32, error) {
			if model != "nomic-embed-text" {
				t.Errorf("model = %q", model)
			}
			if text != "hello" {
				t.Errorf("text = %q", text)
			}
			return []float32{1, 2}, nil
		},
	}
	e := NewEmbedder(client, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedderWrapsError(t *testing.T) {
	client := &mockEmbedClient{
		embedFunc: func(context.Context, string, string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEmbedder(client, "m")

	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

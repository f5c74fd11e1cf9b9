package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmquang/docchat/internal/core/domain"
	"github.com/dmquang/docchat/internal/infrastructure/resilience"
)

// Client talks to a local Ollama instance. Embedding models are selected per
// embedding space, so the 384-dim text model and the larger multimodal model
// can run side by side behind one client.
type Client struct {
	baseURL     string
	genModel    string
	embedModels map[domain.EmbeddingSpace]string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, genModel, textEmbedModel, multimodalEmbedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		genModel: genModel,
		embedModels: map[domain.EmbeddingSpace]string{
			domain.SpaceText:       textEmbedModel,
			domain.SpaceMultimodal: multimodalEmbedModel,
		},
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) embedModel(space domain.EmbeddingSpace) (string, error) {
	model := c.embedModels[space]
	if model == "" {
		return "", domain.WrapError(domain.ErrInvalidConfig, "embed model",
			fmt.Errorf("no model configured for space %q", space))
	}
	return model, nil
}

// call runs fn through the resilience executor when one is configured.
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return wrapTemporaryIfNeeded(operation, fn(ctx))
	}
	err := c.executor.Execute(ctx, operation, fn, classifyOllamaError)
	return wrapTemporaryIfNeeded(operation, err)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, space domain.EmbeddingSpace, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model, err := e.client.embedModel(space)
	if err != nil {
		return nil, err
	}

	request := map[string]any{
		"model": model,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err = e.client.call(ctx, "embed_"+string(space), func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}

	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	for _, vector := range response.Embeddings {
		if err := space.ValidateVector(vector); err != nil {
			return nil, err
		}
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, space domain.EmbeddingSpace, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, space, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, chunks []domain.ScoredChunk) (string, error) {
	return g.client.generateText(ctx, buildAnswerPrompt(question, chunks))
}

func (g *Generator) GenerateFromPrompt(ctx context.Context, prompt string) (string, error) {
	return g.client.generateText(ctx, prompt)
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.call(ctx, "generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", request, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

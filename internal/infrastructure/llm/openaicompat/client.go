// Package openaicompat talks to any OpenAI-compatible endpoint through
// langchaingo: embeddings, vision descriptions and streamed chat completions.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
)

const (
	generationTemperature = 0.01
	defaultBatchSize      = 64
)

type Options struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbedModel     string
	VisionModel    string
	EmbedBatchSize int
	HeaderTimeout  time.Duration

	ResilienceExecutor *resilience.Executor
}

type Client struct {
	chat     *openai.LLM
	vision   *openai.LLM
	embedder *embeddings.EmbedderImpl
	executor *resilience.Executor
}

func New(opts Options) (*Client, error) {
	headerTimeout := opts.HeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 120 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	httpClient := &http.Client{Transport: transport}

	common := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithHTTPClient(httpClient),
		openai.WithEmbeddingModel(opts.EmbedModel),
	}
	if opts.BaseURL != "" {
		common = append(common, openai.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")))
	}

	chat, err := openai.New(append(common, openai.WithModel(opts.ChatModel))...)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = opts.ChatModel
	}
	vision, err := openai.New(append(common, openai.WithModel(visionModel))...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	batch := opts.EmbedBatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	embedder, err := embeddings.NewEmbedder(chat,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Client{
		chat:     chat,
		vision:   vision,
		embedder: embedder,
		executor: opts.ResilienceExecutor,
	}, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai."+operation, fn, classifyError)
	} else {
		err = fn(ctx)
	}
	return wrapExternalIfNeeded("openai "+operation, err)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		var err error
		vectors, err = e.client.embedder.EmbedDocuments(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(domain.ErrExternalService, "openai embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(vectors), len(texts)))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		var err error
		vector, err = e.client.embedder.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

type Describer struct {
	client *Client
	prompt string
}

func NewDescriber(client *Client, prompt string) *Describer {
	if strings.TrimSpace(prompt) == "" {
		prompt = domain.DefaultPrompts().Vision
	}
	return &Describer{client: client, prompt: prompt}
}

func (d *Describer) Describe(ctx context.Context, image domain.ExtractedImage) (string, error) {
	if len(image.Data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "openai describe", errors.New("empty image"))
	}
	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(d.prompt),
			llms.BinaryPart(mimeType, image.Data),
		},
	}}

	var text string
	err := d.client.execute(ctx, "describe", func(ctx context.Context) error {
		resp, err := d.client.vision.GenerateContent(ctx, messages, llms.WithTemperature(generationTemperature))
		if err != nil {
			return err
		}
		text = firstChoice(resp)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrExternalService, "openai describe", errors.New("empty description"))
	}
	return text, nil
}

// Generator streams chat completions. Like the Ollama generator it leaves
// retries to the caller.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	var emitErr error
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
	_, err := g.client.chat.GenerateContent(ctx, messages,
		llms.WithTemperature(generationTemperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if err := emit(string(chunk)); err != nil {
				emitErr = err
				return err
			}
			return nil
		}),
	)
	if emitErr != nil {
		return emitErr
	}
	return wrapExternalIfNeeded("openai generate", err)
}

func firstChoice(resp *llms.ContentResponse) string {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Content)
}

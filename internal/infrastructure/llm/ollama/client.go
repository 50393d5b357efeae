package ollama

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
)

// generationTemperature keeps walkthroughs close to deterministic.
const generationTemperature = 0.01

type Options struct {
	GenModel    string
	EmbedModel  string
	VisionModel string
	// HeaderTimeout bounds the wait for response headers. Whole-call deadlines
	// come from the caller's context so long streams are not cut off.
	HeaderTimeout      time.Duration
	ResilienceExecutor *resilience.Executor
}

type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	headerTimeout := opts.HeaderTimeout
	if headerTimeout <= 0 {
		headerTimeout = 120 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	visionModel := opts.VisionModel
	if visionModel == "" {
		visionModel = opts.GenModel
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    opts.GenModel,
		embedModel:  opts.EmbedModel,
		visionModel: visionModel,
		httpClient:  &http.Client{Transport: transport},
		executor:    opts.ResilienceExecutor,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, fn, classifyOllamaError)
	} else {
		err = fn(ctx)
	}
	return wrapExternalIfNeeded("ollama "+operation, err)
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

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrExternalService, "ollama embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(response.Embeddings), len(texts)))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Describer asks a multimodal model to describe a screenshot.
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
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama describe", errors.New("empty image"))
	}
	request := map[string]any{
		"model":   d.client.visionModel,
		"prompt":  d.prompt,
		"images":  []string{base64.StdEncoding.EncodeToString(image.Data)},
		"stream":  false,
		"options": map[string]any{"temperature": generationTemperature},
	}

	var response struct {
		Response string `json:"response"`
	}
	err := d.client.execute(ctx, "describe", func(ctx context.Context) error {
		return d.client.postJSON(ctx, "/api/generate", request, &response, "describe")
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(response.Response)
	if text == "" {
		return "", domain.WrapError(domain.ErrExternalService, "ollama describe", errors.New("empty description"))
	}
	return text, nil
}

// Generator streams /api/generate output. It does not retry: callers decide
// whether a failure before the first fragment is worth another attempt.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type streamChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (g *Generator) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	request := map[string]any{
		"model":   g.client.genModel,
		"prompt":  prompt,
		"stream":  true,
		"options": map[string]any{"temperature": generationTemperature},
	}

	body, err := g.client.openStream(ctx, "/api/generate", request, "generate")
	if err != nil {
		return wrapExternalIfNeeded("ollama generate", err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return domain.WrapError(domain.ErrExternalService, "ollama generate", fmt.Errorf("decode stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return domain.WrapError(domain.ErrExternalService, "ollama generate", errors.New(chunk.Error))
		}
		if chunk.Response != "" {
			if err := emit(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapExternalIfNeeded("ollama generate", fmt.Errorf("read stream: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return domain.WrapError(domain.ErrExternalService, "ollama generate", errors.New("stream ended before done"))
}

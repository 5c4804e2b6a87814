// Package llm provides the LLM node, which sends a prompt built from its config and inputs to Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/canvasflow/pkg/executor"
	"google.golang.org/genai"
)

// Type is the node type handled by Node.
const Type = "llmNode"

// Defaults applied when the node config leaves them out.
const (
	DefaultModel        = "gemini-pro"
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultMaxRetries   = 3
)

// Input handles with a fixed role; any other connected handle is context.
const (
	HandleSystemPrompt = "system_prompt"
	HandleUserMessage  = "user_message"
)

// ErrMissingAPIKey is returned when the node runs without credentials.
var ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY")

// Node calls the Gemini generateContent API through the genai SDK.
type Node struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
	retryBase  time.Duration

	clientOnce sync.Once
	client     *genai.Client
	clientErr  error
}

// Option configures a Node.
type Option func(*Node)

// WithBaseURL points the node at another API endpoint. The API version is
// appended by the SDK.
func WithBaseURL(baseURL string) Option {
	return func(n *Node) {
		n.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Node) {
		n.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithRetries sets how many times a transient failure is retried and the
// first backoff interval.
func WithRetries(maxRetries uint64, base time.Duration) Option {
	return func(n *Node) {
		n.maxRetries = maxRetries
		n.retryBase = base
	}
}

// New creates an LLM node executor authenticated with apiKey.
func New(apiKey string, opts ...Option) *Node {
	n := &Node{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
		retryBase:  defaultRetryBase,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Name returns the display name.
func (n *Node) Name() string {
	return "LLM"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Generates text with a Gemini model from a system prompt, a user message and upstream context"
}

// Schema returns the JSON schema for LLM node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"model": map[string]any{
				"type":        "string",
				"description": "Gemini model name",
				"default":     DefaultModel,
				"examples":    []string{"gemini-pro", "gemini-1.5-flash"},
			},
			"system_prompt": map[string]any{
				"type":        "string",
				"description": "System instruction, overridden by the system_prompt handle",
				"default":     DefaultSystemPrompt,
			},
			"user_message": map[string]any{
				"type":        "string",
				"description": "User message, overridden by the user_message handle",
			},
			"systemPrompt": map[string]any{"type": "string", "description": "Alias of system_prompt"},
			"userMessage":  map[string]any{"type": "string", "description": "Alias of user_message"},
			"temperature": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 2,
			},
		},
	}
}

// Execute returns {"response": ...}.
func (n *Node) Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	if n.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	p := BuildPrompt(config, inputs)

	n.logger.DebugContext(ctx, "calling gemini", "model", p.Model, "prompt_length", len(p.User))

	text, err := n.generate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", p.Model, err)
	}

	return map[string]any{"response": text}, nil
}

// BuildPrompt resolves the model call from config and inputs. The
// system_prompt and user_message handles win over config; every other
// connected input is appended to the user message as context, ordered by
// handle.
func BuildPrompt(config, inputs map[string]any) Prompt {
	p := Prompt{
		Model:  stringParam(config, nil, "", "model"),
		System: stringParam(config, inputs, HandleSystemPrompt, "system_prompt"),
		User:   stringParam(config, inputs, HandleUserMessage, "user_message"),
	}

	if p.Model == "" {
		p.Model = DefaultModel
	}

	if p.System == "" {
		p.System = DefaultSystemPrompt
	}

	if t, ok := config["temperature"]; ok {
		if v, err := executor.Number(t); err == nil {
			p.Temperature = &v
		}
	}

	handles := make([]string, 0, len(inputs))
	for handle := range inputs {
		if handle != HandleSystemPrompt && handle != HandleUserMessage {
			handles = append(handles, handle)
		}
	}

	slices.Sort(handles)

	var sb strings.Builder

	sb.WriteString(p.User)

	for _, handle := range handles {
		if text, ok := executor.Text(inputs[handle]); ok && text != "" {
			sb.WriteString("\n\nInput Context: ")
			sb.WriteString(text)
		}
	}

	p.User = sb.String()

	return p
}

func stringParam(config, inputs map[string]any, handle, key string) string {
	if raw, ok := executor.Resolve(config, inputs, handle, key); ok {
		if s, isText := executor.Text(raw); isText {
			return s
		}
	}

	alias := key
	if i := strings.IndexByte(key, '_'); i > 0 && i+1 < len(key) {
		alias = key[:i] + strings.ToUpper(key[i+1:i+2]) + key[i+2:]
	}

	s, _ := config[alias].(string)

	return s
}

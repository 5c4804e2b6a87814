package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

var (
	// ErrEmptyResponse is returned when the model produced no candidates.
	ErrEmptyResponse = errors.New("model returned no candidates")
	// ErrPromptBlocked is returned when the prompt was rejected by safety filters.
	ErrPromptBlocked = errors.New("prompt blocked")
)

// defaultRetryBase is the first backoff interval.
const defaultRetryBase = 500 * time.Millisecond

// Prompt is one generateContent call.
type Prompt struct {
	Model       string
	System      string
	User        string
	Temperature *float64
}

// Temporary reports whether retrying a failed call can succeed: rate limits
// and server errors. Errors that are not API responses count as transport
// failures and are temporary too.
func Temporary(err error) bool {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrPromptBlocked) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	return true
}

// genaiClient builds the SDK client once per node.
func (n *Node) genaiClient(ctx context.Context) (*genai.Client, error) {
	n.clientOnce.Do(func() {
		n.client, n.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      n.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  n.httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: n.baseURL},
		})
	})

	return n.client, n.clientErr
}

// generate calls generateContent, retrying rate limits, server errors and
// transport failures with exponential backoff.
func (n *Node) generate(ctx context.Context, p Prompt) (string, error) {
	client, err := n.genaiClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
	}

	if p.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.Temperature))
	}

	var text string

	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.retryBase))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := client.Models.GenerateContent(ctx, p.Model, genai.Text(p.User), config)
		if err == nil {
			text, err = responseText(resp)
		}

		if err != nil {
			if !Temporary(err) {
				return err
			}

			n.logger.WarnContext(ctx, "gemini request failed, retrying", "model", p.Model, "error", err)

			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrPromptBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Text(), nil
}

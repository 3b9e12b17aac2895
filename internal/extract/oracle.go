package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrRateLimited is a transient per-minute limit; the call may be retried.
	ErrRateLimited = errors.New("oracle rate limited")
	// ErrQuotaExhausted is a hard quota that will not recover within the run.
	ErrQuotaExhausted = errors.New("oracle quota exhausted")
	// ErrNoResult marks an extraction that produced nothing usable: retries
	// ran out, the oracle failed, or its response was malformed. It carries no
	// candidates and must not be read as "the page lists no events".
	ErrNoResult = errors.New("extraction produced no usable result")
)

// Oracle generates a response for prompt applied to text
type Oracle interface {
	Generate(ctx context.Context, prompt, text string) (string, error)
}

// OracleFunc adapts a function to Oracle
type OracleFunc func(ctx context.Context, prompt, text string) (string, error)

func (f OracleFunc) Generate(ctx context.Context, prompt, text string) (string, error) {
	return f(ctx, prompt, text)
}

const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel    = "gemini-2.5-flash-lite"
)

// APIError is a non-2xx oracle response that is neither a rate limit nor a quota
type APIError struct {
	Code int
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle returned %d: %s", e.Code, e.Body)
}

// GeminiOracle calls the generateContent REST endpoint
type GeminiOracle struct {
	APIKey   string
	Model    string
	Endpoint string
	Client   *http.Client
}

// NewGemini creates an oracle for the given key and model
func NewGemini(apiKey, model string) *GeminiOracle {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiOracle{
		APIKey:   apiKey,
		Model:    model,
		Endpoint: DefaultGeminiEndpoint,
		Client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate implements Oracle
func (g *GeminiOracle) Generate(ctx context.Context, prompt, text string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}, {Text: text}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(g.Endpoint, "/"), url.PathEscape(g.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling oracle: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading oracle response: %w", err)
	}

	if err := classify(resp.StatusCode, data); err != nil {
		return "", err
	}

	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding oracle response: %w", err)
	}

	var sb strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String(), nil
}

// classify maps an HTTP status to the oracle error taxonomy. A 429 whose
// quota id names a per-day limit cannot recover within the run.
func classify(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		if bytes.Contains(body, []byte("PerDay")) {
			return fmt.Errorf("%w: %s", ErrQuotaExhausted, snippet(body))
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, snippet(body))
	default:
		return &APIError{Code: code, Body: snippet(body)}
	}
}

func snippet(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if utf8.RuneCountInString(s) > 300 {
		s = Truncate(s, 300) + "..."
	}
	return s
}

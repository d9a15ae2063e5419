package labeling

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/ratelimit"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed prompt.md
var instructions string

var (
	labelingCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_labeling_calls_total",
		Help: "Total labeling service calls by result",
	}, []string{"result"})

	labelingCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epigraph_labeling_call_duration_seconds",
		Help:    "Labeling service call duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	invalidTriplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epigraph_labeling_invalid_triples_total",
		Help: "Total returned annotation triples that were not [int, int, string]",
	})
)

// APIKeyEnv is the environment variable consulted when Config.APIKey is empty.
const APIKeyEnv = "GOOGLE_AI_API_KEY"

// Config holds the Gemini client configuration.
type Config struct {
	// BaseURL is the Generative Language API root.
	BaseURL string

	// Model is the Gemini model name.
	Model string

	// APIKey authenticates the requests.
	APIKey string

	// Timeout bounds every call.
	Timeout time.Duration

	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// DefaultConfig returns low-temperature settings for deterministic labeling.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.0-flash-exp",
		Timeout:         60 * time.Second,
		Temperature:     0.1,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

// GeminiClient labels records with the Gemini generateContent endpoint.
type GeminiClient struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// NewGeminiClient creates a client. The API key falls back to the
// GOOGLE_AI_API_KEY environment variable.
func NewGeminiClient(cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnv)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("labeling api key is required (set %s)", APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &GeminiClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     log.With().Str("component", "labeling").Str("model", cfg.Model).Logger(),
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Label sends one record and decodes the returned annotations. The
// returned Result keeps the record's own id and transcription, which the
// offsets refer to.
func (c *GeminiClient) Label(ctx context.Context, rec record.Record) (Result, error) {
	start := time.Now()
	defer func() {
		labelingCallDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(c.request(rec))
	if err != nil {
		return Result{}, fmt.Errorf("marshal labeling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, c.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create labeling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		labelingCallsTotal.WithLabelValues("transport_error").Inc()
		return Result{}, &TransportError{Err: fmt.Errorf("labeling request for %s: %w", rec.ID, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		labelingCallsTotal.WithLabelValues("transport_error").Inc()
		return Result{}, &TransportError{Err: fmt.Errorf("read labeling response for %s: %w", rec.ID, err)}
	}

	if resp.StatusCode >= 300 {
		labelingCallsTotal.WithLabelValues("status_error").Inc()
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(payload)), 256),
		}
		if d, ok := ratelimit.ParseRetryAfter(resp.Header, time.Now()); ok {
			statusErr.RetryAfter = d
		}
		return Result{}, statusErr
	}

	reply, err := replyText(payload)
	if err != nil {
		labelingCallsTotal.WithLabelValues("malformed").Inc()
		return Result{}, err
	}

	res, err := DecodeResult(reply)
	if err != nil {
		labelingCallsTotal.WithLabelValues("malformed").Inc()
		c.logger.Debug().
			Str("id", rec.ID).
			Str("reply", truncate(reply, 200)).
			Msg("Undecodable labeling reply")
		return Result{}, err
	}

	if res.Transcription != "" && res.Transcription != rec.Transcription {
		c.logger.Debug().Str("id", rec.ID).Msg("Service echoed a different transcription, keeping ours")
	}
	res.ID = rec.ID
	res.Text = rec.Text
	res.Transcription = rec.Transcription

	if res.Invalid > 0 {
		invalidTriplesTotal.Add(float64(res.Invalid))
		c.logger.Warn().
			Str("id", rec.ID).
			Int("invalid", res.Invalid).
			Msg("Discarded malformed annotation triples")
	}

	labelingCallsTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (c *GeminiClient) request(rec record.Record) generateRequest {
	return generateRequest{
		SystemInstruction: content{Parts: []part{{Text: instructions}}},
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: Prompt(rec)}},
		}},
		GenerationConfig: generationConfig{
			Temperature:      c.config.Temperature,
			TopP:             c.config.TopP,
			TopK:             c.config.TopK,
			MaxOutputTokens:  c.config.MaxOutputTokens,
			ResponseMIMEType: "application/json",
		},
	}
}

// Prompt renders the per-record user message.
func Prompt(rec record.Record) string {
	input, _ := json.MarshalIndent(map[string]string{
		"id":            rec.ID,
		"text":          rec.Text,
		"transcription": rec.Transcription,
	}, "", "  ")

	return "Please annotate the following inscription:\n\n" +
		string(input) +
		"\n\nReturn ONLY the JSON object with annotations added. No other text.\n"
}


func replyText(payload []byte) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty reply (finish reason %s)", ErrMalformedResponse, resp.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultResponseTimeout = 300 * time.Second

	maxLineSize  = 1024 * 1024
	maxErrorBody = 64 * 1024
)

// Config configures a Client
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1
	BaseURL string
	APIKey  string
	// ConnectTimeout bounds dialing and the TLS handshake
	ConnectTimeout time.Duration
	// ResponseTimeout bounds a whole request, including the streamed body
	ResponseTimeout time.Duration
	// HTTPClient overrides the transport built from the timeouts above
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	endpoint        string
	apiKey          string
	responseTimeout time.Duration
	httpClient      *http.Client
	sdk             openai.Client
	logger          zerolog.Logger
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []session.APIMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// New creates a new upstream Client
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: newTransport(cfg.ConnectTimeout)}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	observability.EnsureRegistered()

	return &Client{
		endpoint:        baseURL + "/chat/completions",
		apiKey:          cfg.APIKey,
		responseTimeout: cfg.ResponseTimeout,
		httpClient:      httpClient,
		sdk: openai.NewClient(
			option.WithBaseURL(baseURL+"/"),
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		logger: logger.With().Str("component", "upstream").Logger(),
	}, nil
}

func newTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Stream opens a streaming chat completion. The HTTP call happens in the
// stream's producer goroutine; failures surface from Recv.
func (c *Client) Stream(ctx context.Context, model string, messages []session.APIMessage) (*Stream, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, &Error{Kind: KindRequest, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	return NewStream(ctx, func(ctx context.Context, send func(string) bool) error {
		return c.runStream(ctx, model, len(messages), body, send)
	}), nil
}

func (c *Client) runStream(ctx context.Context, model string, historyLen int, body []byte, send func(string) bool) (err error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"chatrelay.upstream",
		"upstream.stream",
		attribute.String("model", model),
		attribute.Int("history_len", historyLen),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("model", model).Logger()

	start := time.Now()
	deltas := 0
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(KindOf(classify(err)))
			tracing.FailSpan(span, err)
		}
		span.SetAttributes(attribute.Int("deltas", deltas))
		observability.RecordUpstreamRequest("stream", kind, time.Since(start))
		logger.Debug().Int("deltas", deltas).Str("result", kind).Dur("elapsed", time.Since(start)).Msg("Upstream stream finished")
	}()

	tctx, cancel := context.WithTimeout(ctx, c.responseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrap(ctx, tctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		if !gjson.Valid(data) {
			logger.Debug().Str("chunk", truncate(data, 200)).Msg("Skipping malformed stream chunk")
			continue
		}
		if msg := gjson.Get(data, "error.message"); msg.Exists() {
			return statusError(resp.StatusCode, msg.String())
		}

		content := gjson.Get(data, "choices.0.delta.content")
		if content.Type != gjson.String || content.Str == "" {
			continue
		}

		if !send(content.Str) {
			return c.wrap(ctx, tctx, ctx.Err())
		}
		deltas++
	}

	if err := scanner.Err(); err != nil {
		return c.wrap(ctx, tctx, err)
	}
	return nil
}

// wrap classifies err. A caller that went away wins over whatever the transport
// reported; an exceeded response deadline is always a timeout.
func (c *Client) wrap(parent, tctx context.Context, err error) error {
	if parent.Err() != nil {
		return classify(context.Cause(parent))
	}
	if err == nil {
		err = context.Canceled
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return timeoutError(fmt.Errorf("no complete response within %s: %w", c.responseTimeout, err))
	}
	return classify(err)
}

// Complete performs a non-streaming chat completion and returns the reply text
func (c *Client) Complete(ctx context.Context, model string, messages []session.APIMessage) (reply string, err error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"chatrelay.upstream",
		"upstream.complete",
		attribute.String("model", model),
		attribute.Int("history_len", len(messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("model", model).Logger()

	start := time.Now()
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(KindOf(err))
			tracing.FailSpan(span, err)
		}
		observability.RecordUpstreamRequest("complete", kind, time.Since(start))
		logger.Debug().Str("result", kind).Dur("elapsed", time.Since(start)).Msg("Upstream completion finished")
	}()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toSDKMessages(messages),
	}

	tctx, cancel := context.WithTimeout(ctx, c.responseTimeout)
	defer cancel()

	resp, err := c.sdk.Chat.Completions.New(tctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Message
			if body == "" {
				body = apiErr.Error()
			}
			return "", statusError(apiErr.StatusCode, body)
		}
		return "", c.wrap(ctx, tctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toSDKMessages(messages []session.APIMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch session.Role(m.Role) {
		case session.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

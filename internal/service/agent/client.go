package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nattskiftet/chatbot/internal/model/chat"
)

const (
	// DefaultTimeout bounds a single request to the agent.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
	userAgent    = "chatbot-widget/1"
)

// Observer receives one call per finished request.
type Observer interface {
	ObserveRequest(command string, duration time.Duration, code string)
}

// Client issues commands against the agent's single JSON endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	observer   Observer
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithObserver reports every request to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "agent").Logger() }
}

// NewClient returns a Client posting to baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSpace(baseURL),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts a new conversation in language and returns its greeting.
func (c *Client) Create(ctx context.Context, language string) (*StartResult, error) {
	var out StartResult
	if err := c.do(ctx, request{Command: CommandStart, Language: language}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume reattaches to conversationID. Callers fall back to Create on ErrSessionEnded.
func (c *Client) Resume(ctx context.Context, conversationID, language string) (*Result, error) {
	var out Result
	req := request{Command: CommandResume, ConversationID: conversationID, Language: language}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll fetches responses newer than mostRecentResponseID. An empty
// Responses slice means nothing new yet.
func (c *Client) Poll(ctx context.Context, conversationID, mostRecentResponseID string) (*Result, error) {
	var out Result
	req := request{Command: CommandPoll, ConversationID: conversationID, Value: mostRecentResponseID}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Post sends a user message or an action-link selection.
func (c *Client) Post(ctx context.Context, conversationID string, msg Message) (*Result, error) {
	switch msg.Type {
	case PostText:
		if msg.Text == "" {
			return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
		}
	case PostActionLink:
		if msg.ActionID == "" {
			return nil, fmt.Errorf("%w: empty action id", ErrInvalidMessage)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	req := request{Command: CommandPost, ConversationID: conversationID}
	msg.apply(&req)

	var out Result
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping tells the agent that the user is composing a message.
func (c *Client) Ping(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	var out conversationResult
	if err := c.do(ctx, request{Command: CommandTyping, ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

// Remove deletes the conversation on the agent side.
func (c *Client) Remove(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	var out conversationResult
	if err := c.do(ctx, request{Command: CommandDelete, ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	return &out.Conversation, nil
}

func (c *Client) do(ctx context.Context, req request, out any) (err error) {
	started := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRequest(string(req.Command), time.Since(started), string(Classify(err)))
		}
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", req.Command, err)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", req.Command, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("agent %s: %w", req.Command, ctxErr)
		}
		return &NetworkError{Command: req.Command, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("command", string(req.Command)).
		Str("conversation", req.ConversationID).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("agent request finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(req.Command, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: empty body", req.Command)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("agent %s: %w", req.Command, ctxErr)
		}
		if reqCtx.Err() != nil {
			return &NetworkError{Command: req.Command, Err: err}
		}
		return fmt.Errorf("decode %s response: %w", req.Command, err)
	}
	return nil
}

func decodeAPIError(command Command, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	apiErr := &APIError{Command: command, StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

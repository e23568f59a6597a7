// Package whatsapp is a client for the WhatsApp Cloud API plus the inbound
// webhook payload types and verification helpers.
package whatsapp

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

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/circuitbreaker"
	"github.com/jkindrix/plumbot/internal/config"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/retry"
	"github.com/jkindrix/plumbot/internal/sanitize"
)

const (
	// DefaultBaseURL is the Graph API root.
	DefaultBaseURL = "https://graph.facebook.com/v19.0"

	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	// MaxMediaBytes bounds a single media download.
	MaxMediaBytes = 100 << 20

	breakerName = "whatsapp"
)

// MediaType is an outbound or inbound media kind.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaSticker  MediaType = "sticker"
)

// OutboundMedia is a media message to send. Exactly one of Link or ID is used;
// Link wins when both are set.
type OutboundMedia struct {
	Type     MediaType
	Link     string
	ID       string
	Caption  string
	Filename string
}

// DownloadedMedia is the content of an inbound media object.
type DownloadedMedia struct {
	Data     []byte
	MimeType string
}

// Client is the WhatsApp Cloud API client.
type Client struct {
	baseURL        string
	phoneNumberID  string
	accessToken    string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retrier        *retry.Retrier
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetrier sets the retry policy for sends. Without it every send is a
// single attempt.
func WithRetrier(r *retry.Retrier) Option {
	return func(cl *Client) { cl.retrier = r }
}

// WithMetrics records breaker state changes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New creates a new WhatsApp Cloud API client.
func New(cfg *config.WhatsAppConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("logger is required")
	}
	baseURL := strings.TrimRight(cfg.APIURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:       baseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.Config{MaxAttempts: 1}, logger)
	}

	c.circuitBreaker = circuitbreaker.New(breakerName, circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 2,
		OnStateChange: func(_ string, _, to circuitbreaker.State) {
			c.metrics.SetCircuitBreakerState(breakerName, int(to))
		},
	}, logger)

	return c
}

// APIError is the Graph API error envelope.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error %d (%s): %s", e.Code, e.Type, e.Message)
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type mediaBody struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendRequest struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
	Document         *mediaBody `json:"document,omitempty"`
	Audio            *mediaBody `json:"audio,omitempty"`
	Video            *mediaBody `json:"video,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", apperrors.ValidationFailed("message body is empty")
	}
	return c.send(ctx, "whatsapp.SendText", sendRequest{
		To:   to,
		Type: "text",
		Text: &textBody{Body: body},
	})
}

// SendMedia sends an image, document, audio or video by link or media id.
func (c *Client) SendMedia(ctx context.Context, to string, media OutboundMedia) (string, error) {
	if media.Link == "" && media.ID == "" {
		return "", apperrors.ValidationFailed("media link or id is required")
	}
	mb := &mediaBody{Link: media.Link, Caption: media.Caption}
	if media.Link == "" {
		mb.ID = media.ID
	}

	req := sendRequest{To: to, Type: string(media.Type)}
	switch media.Type {
	case MediaImage:
		req.Image = mb
	case MediaDocument:
		mb.Filename = media.Filename
		req.Document = mb
	case MediaVideo:
		req.Video = mb
	case MediaAudio:
		mb.Caption = ""
		req.Audio = mb
	default:
		return "", apperrors.ValidationFailed(fmt.Sprintf("unsupported media type %q", media.Type))
	}
	return c.send(ctx, "whatsapp.SendMedia", req)
}

func (c *Client) send(ctx context.Context, op string, req sendRequest) (string, error) {
	req.MessagingProduct = "whatsapp"
	req.RecipientType = "individual"

	return retry.Do(ctx, c.retrier, op, func(ctx context.Context) (string, error) {
		var resp sendResponse
		err := c.request(ctx, op, http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/messages", req, &resp)
		if err != nil {
			return "", err
		}
		if len(resp.Messages) == 0 {
			return "", nil
		}
		c.logger.Debug("whatsapp message sent",
			zap.String("op", op),
			zap.String("to", sanitize.Phone(req.To)),
			zap.String("message_id", resp.Messages[0].ID),
		)
		return resp.Messages[0].ID, nil
	})
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	body := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.request(ctx, "whatsapp.MarkRead", http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/messages", body, nil)
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// DownloadMedia fetches an inbound media object: first its short-lived URL,
// then the bytes behind it.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (*DownloadedMedia, error) {
	const op = "whatsapp.DownloadMedia"

	var info mediaInfo
	if err := c.request(ctx, op, http.MethodGet, c.baseURL+"/"+mediaID, nil, &info); err != nil {
		return nil, err
	}
	if info.URL == "" {
		return nil, apperrors.TransportError(op, 0, errors.New("media URL missing from lookup"))
	}
	if info.FileSize > MaxMediaBytes {
		return nil, apperrors.ValidationFailed(fmt.Sprintf("media too large: %d bytes", info.FileSize))
	}

	var data []byte
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.TransportError(op, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return apperrors.TransportError(op, resp.StatusCode, fmt.Errorf("media download status %d", resp.StatusCode))
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
		if err != nil {
			return apperrors.TransportError(op, 0, err)
		}
		if len(data) > MaxMediaBytes {
			return apperrors.ValidationFailed("media too large")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &DownloadedMedia{Data: data, MimeType: mimeType}, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.circuitBreaker.State()
}

// request performs an HTTP request to the Graph API with circuit breaker protection.
func (c *Client) request(ctx context.Context, op, method, url string, body, result any) error {
	return c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, op, method, url, body, result)
	})
}

func (c *Client) doRequest(ctx context.Context, op, method, url string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.TransportError(op, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.TransportError(op, 0, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil {
			return apperrors.TransportError(op, resp.StatusCode, envelope.Error)
		}
		return apperrors.TransportError(op, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperrors.TransportError(op, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}

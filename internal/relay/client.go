// Package relay implements the rate-limited client for the bot-relay
// HTTP API the gateway stores chunk blobs on. Every call is gated by
// the per-credential interval limiter before it reaches the wire.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/metrics"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/ratelimit"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client 中继传输客户端
type Client struct {
	config  *Config
	http    *http.Client
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// New 创建中继客户端
func New(cfg *Config, limiter *ratelimit.Limiter, m *metrics.Metrics, log *logger.Logger) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		metrics: m,
		logger:  log,
	}, nil
}

// PutBlob uploads bytes to the credential's channel and returns the
// message/blob reference pair.
func (c *Client) PutBlob(ctx context.Context, credential, channelID string, data []byte, name string) (BlobHandle, error) {
	const op = "PutBlob"

	if channelID == "" {
		return BlobHandle{}, wrapError(op, ErrUnavailable, "empty channel id")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("channel_id", channelID); err != nil {
		return BlobHandle{}, wrapError(op, ErrUnavailable, err.Error())
	}
	part, err := writer.CreateFormFile("blob", name)
	if err != nil {
		return BlobHandle{}, wrapError(op, ErrUnavailable, err.Error())
	}
	if _, err := part.Write(data); err != nil {
		return BlobHandle{}, wrapError(op, ErrUnavailable, err.Error())
	}
	if err := writer.Close(); err != nil {
		return BlobHandle{}, wrapError(op, ErrUnavailable, err.Error())
	}

	payload, err := c.call(ctx, op, credential, http.MethodPost, c.endpoint(credential, "blobs"), body, writer.FormDataContentType())
	if err != nil {
		return BlobHandle{}, err
	}

	result := gjson.ParseBytes(payload).Get("result")
	handle := BlobHandle{
		MessageRef: result.Get("message_id").String(),
		BlobRef:    result.Get("blob_id").String(),
	}
	if handle.MessageRef == "" || handle.BlobRef == "" {
		return BlobHandle{}, wrapError(op, ErrUnavailable, "relay returned incomplete references")
	}

	if c.metrics != nil {
		c.metrics.ChunkBytes.WithLabelValues("upload").Add(float64(len(data)))
	}

	return handle, nil
}

// GetBlobBytes fetches the full blob behind blobRef.
func (c *Client) GetBlobBytes(ctx context.Context, credential, blobRef string) ([]byte, error) {
	const op = "GetBlobBytes"

	data, err := c.callRaw(ctx, op, credential, c.endpoint(credential, "blobs/"+url.PathEscape(blobRef)))
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.ChunkBytes.WithLabelValues("download").Add(float64(len(data)))
	}

	return data, nil
}

// ResolveBlobFromMessage re-derives a fresh blob reference from the
// relay's message log. Returns an empty reference when the message no
// longer carries a blob.
func (c *Client) ResolveBlobFromMessage(ctx context.Context, credential, channelID, messageRef string) (string, error) {
	const op = "ResolveBlobFromMessage"

	path := fmt.Sprintf("channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageRef))
	payload, err := c.call(ctx, op, credential, http.MethodGet, c.endpoint(credential, path), nil, "")
	if err != nil {
		return "", err
	}

	return gjson.ParseBytes(payload).Get("result.blob_id").String(), nil
}

// CheckIdentity performs the identity call used by health probes.
func (c *Client) CheckIdentity(ctx context.Context, credential string) (Identity, error) {
	const op = "CheckIdentity"

	payload, err := c.call(ctx, op, credential, http.MethodGet, c.endpoint(credential, "me"), nil, "")
	if err != nil {
		return Identity{}, err
	}

	result := gjson.ParseBytes(payload).Get("result")
	return Identity{
		ID:       result.Get("id").String(),
		Username: result.Get("username").String(),
	}, nil
}

// GetUpdates polls the credential's inbound event feed starting after offset.
func (c *Client) GetUpdates(ctx context.Context, credential string, offset int64) ([]Update, error) {
	const op = "GetUpdates"

	path := fmt.Sprintf("updates?offset=%d", offset)
	payload, err := c.call(ctx, op, credential, http.MethodGet, c.endpoint(credential, path), nil, "")
	if err != nil {
		return nil, err
	}

	var updates []Update
	gjson.ParseBytes(payload).Get("result").ForEach(func(_, item gjson.Result) bool {
		updates = append(updates, Update{
			UpdateID:  item.Get("update_id").Int(),
			Type:      item.Get("type").String(),
			ChannelID: item.Get("channel_id").String(),
		})
		return true
	})

	return updates, nil
}

func (c *Client) endpoint(credential, path string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	return fmt.Sprintf("%s/bot%s/%s", base, credential, path)
}

// call performs a JSON-envelope request: non-2xx or ok=false payloads
// are classified into the relay error taxonomy.
func (c *Client) call(ctx context.Context, op, credential, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	raw, status, err := c.do(ctx, op, credential, method, endpoint, body, contentType)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK || !gjson.GetBytes(raw, "ok").Bool() {
		classified := classifyPayload(op, status, raw)
		c.observe(op, classified)
		return nil, classified
	}

	c.observe(op, nil)
	return raw, nil
}

// callRaw performs a binary fetch: a 200 answer is the blob itself,
// anything else carries the JSON error envelope.
func (c *Client) callRaw(ctx context.Context, op, credential, endpoint string) ([]byte, error) {
	raw, status, err := c.do(ctx, op, credential, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		classified := classifyPayload(op, status, raw)
		c.observe(op, classified)
		return nil, classified
	}

	c.observe(op, nil)
	return raw, nil
}

func (c *Client) do(ctx context.Context, op, credential, method, endpoint string, body io.Reader, contentType string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, credential); err != nil {
			return nil, 0, wrapError(op, ErrUnavailable, err.Error())
		}
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RelayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, wrapError(op, ErrUnavailable, err.Error())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := wrapError(op, ErrUnavailable, err.Error())
		c.observe(op, wrapped)
		c.logger.Warn("relay call failed",
			zap.String("op", op),
			zap.Error(err),
		)
		return nil, 0, wrapped
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := wrapError(op, ErrUnavailable, err.Error())
		c.observe(op, wrapped)
		return nil, 0, wrapped
	}

	return raw, resp.StatusCode, nil
}

func (c *Client) observe(op string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		switch {
		case IsRateLimited(err):
			outcome = "rate_limited"
		case IsInvalidCredential(err):
			outcome = "invalid_credential"
		case IsBlobNotFound(err):
			outcome = "blob_not_found"
		default:
			outcome = "unavailable"
		}
	}
	c.metrics.RelayCalls.WithLabelValues(op, outcome).Inc()
}

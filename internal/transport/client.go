// Package transport posts upload payloads to the scan endpoint as
// multipart/form-data.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/scanup/internal/session"
)

const (
	// SessionHeader carries the session ID so server logs can be correlated.
	SessionHeader = "X-Scanup-Session"

	maxResponseBytes = 10 << 20
)

// Client is a session.Submitter that speaks HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHeaders adds headers to every request, e.g. a session Cookie for an
// endpoint that requires login.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a Client posting to endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		headers:    map[string]string{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL submissions are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Submit streams p as a multipart body and returns the JSON reply.
// Every failure is a *session.TransportError.
func (c *Client) Submit(ctx context.Context, p *session.Payload) (json.RawMessage, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		return nil, c.fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	// Configured headers never replace the multipart framing or session ID.
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Del(SessionHeader)
	if p.SessionID != "" {
		req.Header.Set(SessionHeader, p.SessionID)
	}

	writeErr := make(chan error, 1)
	go func() {
		err := writePayload(mw, p)
		writeErr <- err
		pw.CloseWithError(err)
	}()

	c.logger.Debug("posting payload",
		"endpoint", c.endpoint,
		"session", p.SessionID,
		"fields", p.Fields(),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		// Prefer the body writer's error: a file that cannot be opened
		// surfaces here as a generic body read failure.
		if werr := <-writeErr; werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			err = werr
		}
		return nil, c.fail(0, err)
	}
	defer resp.Body.Close()
	defer pr.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.fail(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, c.fail(resp.StatusCode, errors.New(msg))
	}
	if !json.Valid(body) {
		return nil, c.fail(resp.StatusCode, errors.New("response is not JSON"))
	}

	c.logger.Debug("payload accepted", "endpoint", c.endpoint, "status", resp.StatusCode)
	return json.RawMessage(body), nil
}

func (c *Client) fail(status int, err error) error {
	return &session.TransportError{Endpoint: c.endpoint, StatusCode: status, Err: err}
}

// writePayload writes the title field followed by one file part per payload
// part, in order, then closes the multipart writer.
func writePayload(mw *multipart.Writer, p *session.Payload) error {
	if err := mw.WriteField(session.TitleField, p.Title); err != nil {
		return err
	}
	for _, part := range p.Parts {
		if err := writeFilePart(mw, part); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(mw *multipart.Writer, part session.Part) error {
	name := part.File.Name()
	rc, err := part.File.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(part.Field), quoteEscaper.Replace(filepath.Base(name))))
	h.Set("Content-Type", ContentType(name))

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

// ContentType guesses a part's media type from its file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

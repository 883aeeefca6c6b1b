// Package receiver is a development stand-in for the recipe app's scan
// route. It accepts a submission, counts what arrived and answers with a
// JSON acknowledgement. Image content is read and discarded.
package receiver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fakeyudi/scanup/internal/session"
	"github.com/fakeyudi/scanup/internal/transport"
)

// DefaultMaxBytes caps a single submission body.
const DefaultMaxBytes = 256 << 20

// Ack is the JSON reply to an accepted submission.
type Ack struct {
	RequestID string      `json:"request_id"`
	SessionID string      `json:"session_id,omitempty"`
	Title     string      `json:"title"`
	Photos    []PhotoInfo `json:"photos"`
}

// PhotoInfo describes one received file part.
type PhotoInfo struct {
	Field       string `json:"field"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Bytes       int64  `json:"bytes"`
}

// Handler accepts scan submissions.
type Handler struct {
	maxBytes int64
	logger   *slog.Logger
	onAck    func(Ack)
}

// NewHandler returns a Handler. A maxBytes of zero uses DefaultMaxBytes;
// logger and onAck may be nil.
func NewHandler(maxBytes int64, logger *slog.Logger, onAck func(Ack)) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger = orDiscard(logger)
	return &Handler{maxBytes: maxBytes, logger: logger, onAck: onAck}
}

// NewRouter wires the scan route and a health check behind the request ID,
// logging and recovery middleware.
func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	logger = orDiscard(logger)
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/", h.Scan)
	return r
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Scan reads a multipart submission: a title field and any number of
// photos_<i> file parts.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	ack := Ack{
		RequestID: RequestIDFrom(r.Context()),
		SessionID: r.Header.Get(transport.SessionHeader),
		Photos:    []PhotoInfo{},
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, statusFor(err), "malformed multipart body: "+err.Error())
			return
		}

		field := part.FormName()
		switch {
		case field == session.TitleField:
			b, err := io.ReadAll(part)
			if err != nil {
				writeError(w, statusFor(err), "reading title: "+err.Error())
				return
			}
			ack.Title = string(b)
		case strings.HasPrefix(field, session.PhotoFieldPrefix):
			n, err := io.Copy(io.Discard, part)
			if err != nil {
				writeError(w, statusFor(err), "reading "+field+": "+err.Error())
				return
			}
			ack.Photos = append(ack.Photos, PhotoInfo{
				Field:       field,
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Bytes:       n,
			})
		default:
			h.logger.Debug("ignoring unknown field", "field", field)
		}
		part.Close()
	}

	h.logger.Info("scan received",
		"request_id", ack.RequestID,
		"session", ack.SessionID,
		"title", ack.Title,
		"photos", len(ack.Photos),
	)
	if h.onAck != nil {
		h.onAck(ack)
	}
	writeJSON(w, http.StatusOK, ack)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

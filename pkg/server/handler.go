// Package server exposes the interactions webhook over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/proxydrop/pkg/domain"
	"github.com/polisai/proxydrop/pkg/response"
	"github.com/polisai/proxydrop/pkg/signature"
	"github.com/polisai/proxydrop/pkg/telemetry"
)

// DefaultMaxBodyBytes caps the size of an inbound interaction body.
const DefaultMaxBodyBytes int64 = 1 << 20

const (
	bodyBadSignature = "Bad request signature."
	bodyNotFound     = "Not Found."
)

// RequestVerifier authenticates a raw request body against its headers.
type RequestVerifier interface {
	VerifyRequest(body []byte, header http.Header) error
}

// InteractionRouter produces exactly one reply per interaction.
type InteractionRouter interface {
	Route(ctx context.Context, in domain.Interaction) domain.CommandReply
}

// HandlerConfig wires the webhook handler.
type HandlerConfig struct {
	ApplicationID string
	Verifier      RequestVerifier
	Router        InteractionRouter
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	MaxBodyBytes  int64
}

type handler struct {
	cfg    HandlerConfig
	logger *slog.Logger
}

// NewHandler returns the full webhook handler: routes wrapped in tracing,
// request ID, request logging and HTTP metrics middleware.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &handler{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /interactions", h.handleInteraction)
	mux.HandleFunc("GET /{$}", h.handleRoot)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)

	return Chain(mux,
		func(next http.Handler) http.Handler { return otelhttp.NewHandler(next, "proxydrop.webhook") },
		RequestIDMiddleware,
		LoggingMiddleware(cfg.Logger),
		cfg.Metrics.MetricsMiddleware,
	)
}

func (h *handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "👋 "+h.cfg.ApplicationID)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, bodyNotFound)
}

func (h *handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Payload Too Large.")
			return
		}
		h.logger.WarnContext(ctx, "read interaction body", "error", err)
		writeText(w, http.StatusBadRequest, "Bad Request.")
		return
	}

	if err := h.cfg.Verifier.VerifyRequest(body, r.Header); err != nil {
		reason := "mismatch"
		if errors.Is(err, signature.ErrMissingHeaders) {
			reason = "missing_headers"
		}
		h.cfg.Metrics.RecordSignatureFailure(reason)
		h.logger.WarnContext(ctx, "interaction rejected",
			"request_id", RequestIDFromContext(ctx),
			"reason", reason,
		)
		writeText(w, http.StatusUnauthorized, bodyBadSignature)
		return
	}

	interaction, err := domain.ParseInteraction(body)
	if err != nil {
		h.logger.WarnContext(ctx, "malformed interaction", "error", err)
		var de *domain.DomainError
		message := "Malformed Payload"
		if errors.As(err, &de) {
			message = de.Message
		}
		h.write(w, r, domain.ErrorReply(domain.StatusCode(err), message))
		return
	}

	h.write(w, r, h.cfg.Router.Route(ctx, interaction))
}

func (h *handler) write(w http.ResponseWriter, r *http.Request, reply domain.CommandReply) {
	wire, err := response.Build(reply)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "encode reply", "kind", reply.Kind.String(), "error", err)
		writeText(w, http.StatusInternalServerError, "Internal Server Error.")
		return
	}
	if err := wire.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "write reply", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// Package router turns an authenticated interaction into exactly one
// CommandReply. Checks run in a fixed order: handshake, invite, channel scope,
// upstream fetch, then command dispatch.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/proxydrop/pkg/domain"
	"github.com/polisai/proxydrop/pkg/telemetry"
)

// User-visible replies.
const (
	MessageScopeRejected = "This command can only be used in a #proxy channel."
	MessageFetchFailed   = "Failed to fetch proxies."
	MessageUnknownType   = "Unknown Type"

	inviteBase = "https://discord.com/oauth2/authorize?client_id="
)

// DefaultUploadWarnBytes is the platform's default upload limit. Larger
// attachments are still sent but logged.
const DefaultUploadWarnBytes = 10 << 20

// Gateway supplies the current proxy catalog.
type Gateway interface {
	Fetch(ctx context.Context) (domain.ProxyCatalog, error)
}

// ScopePolicy decides whether proxy commands may run in a channel.
type ScopePolicy interface {
	Allow(ctx context.Context, channel domain.ChannelRef) (bool, error)
}

// Config carries the router's static settings.
type Config struct {
	ApplicationID   string
	UploadWarnBytes int
}

// Router dispatches interactions. It holds no per-request state.
type Router struct {
	cfg     Config
	gateway Gateway
	scope   ScopePolicy
	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Router. metrics may be nil.
func New(cfg Config, gateway Gateway, scope ScopePolicy, metrics *telemetry.Metrics, logger *slog.Logger) *Router {
	if cfg.UploadWarnBytes <= 0 {
		cfg.UploadWarnBytes = DefaultUploadWarnBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		gateway: gateway,
		scope:   scope,
		metrics: metrics,
		logger:  logger,
		tracer:  telemetry.Tracer(),
	}
}

// InviteURL returns the install link for an application.
func InviteURL(applicationID string) string {
	return inviteBase + applicationID
}

// Route produces the reply for one interaction.
func (r *Router) Route(ctx context.Context, in domain.Interaction) domain.CommandReply {
	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(attribute.String("interaction.kind", in.Kind.String())))
	defer span.End()

	reply, outcome := r.route(ctx, in)

	command := commandLabel(in)
	span.SetAttributes(
		attribute.String("interaction.command", command),
		attribute.String("interaction.outcome", outcome),
	)
	r.metrics.RecordInteraction(in.Kind.String(), command, outcome)
	r.logger.InfoContext(ctx, "interaction routed",
		"kind", in.Kind.String(),
		"command", in.Command,
		"channel_kind", in.Channel.Kind.String(),
		"outcome", outcome,
	)
	return reply
}

func (r *Router) route(ctx context.Context, in domain.Interaction) (domain.CommandReply, string) {
	switch in.Kind {
	case domain.InteractionHandshake:
		return domain.Pong(), "pong"
	case domain.InteractionCommand:
	default:
		return domain.ErrorReply(http.StatusBadRequest, MessageUnknownType), "unsupported"
	}

	if in.Command == domain.CommandInvite {
		return domain.Ephemeral(InviteURL(r.cfg.ApplicationID)), "invite"
	}

	allowed, err := r.scope.Allow(ctx, in.Channel)
	if err != nil {
		r.logger.ErrorContext(ctx, "scope policy evaluation failed", "error", err)
		allowed = false
	}
	if !allowed {
		return domain.Ephemeral(MessageScopeRejected), "scope_rejected"
	}

	catalog, err := r.gateway.Fetch(ctx)
	if err != nil {
		return domain.Ephemeral(MessageFetchFailed), "fetch_failed"
	}

	name := strings.ToLower(in.Command)
	var reply domain.CommandReply
	switch name {
	case domain.CommandHTTP, domain.CommandHTTPS, domain.CommandSOCKS4, domain.CommandSOCKS5:
		reply = categoryReply(domain.Category(name), catalog)
	case domain.CommandAll:
		reply = allReply(catalog)
	default:
		return domain.ErrorReply(http.StatusBadRequest, MessageUnknownType), "unknown_command"
	}

	size := len(reply.Attachment.Content)
	r.metrics.RecordAttachment(name, size)
	if size > r.cfg.UploadWarnBytes {
		r.logger.WarnContext(ctx, "attachment exceeds platform upload limit",
			"command", name,
			"bytes", size,
			"limit", r.cfg.UploadWarnBytes,
		)
	}
	return reply, "attachment"
}

func categoryReply(cat domain.Category, catalog domain.ProxyCatalog) domain.CommandReply {
	upper := strings.ToUpper(string(cat))
	return domain.PublicWithAttachment("Here are your "+upper+" proxies!", domain.Attachment{
		Filename:    string(cat) + ".txt",
		Description: upper + " Proxies",
		Content:     []byte(strings.Join(catalog.Entries(cat), "\n")),
	})
}

func allReply(catalog domain.ProxyCatalog) domain.CommandReply {
	blocks := make([]string, 0, len(domain.Categories))
	for _, cat := range domain.Categories {
		entries := catalog.Entries(cat)
		prefixed := make([]string, len(entries))
		for i, entry := range entries {
			prefixed[i] = cat.Scheme() + entry
		}
		blocks = append(blocks, strings.Join(prefixed, "\n"))
	}
	return domain.PublicWithAttachment("Here are your URL proxies!", domain.Attachment{
		Filename:    "proxies.txt",
		Description: "URL Proxies",
		Content:     []byte(strings.Join(blocks, "\n")),
	})
}

// commandLabel bounds metric cardinality to the known command names.
func commandLabel(in domain.Interaction) string {
	if in.Kind != domain.InteractionCommand {
		return ""
	}
	name := strings.ToLower(in.Command)
	for _, known := range domain.CommandNames {
		if name == known {
			return known
		}
	}
	return "other"
}

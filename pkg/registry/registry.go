// Package registry uploads the application's slash commands to the platform's
// global command registry. Registration is a one-off administrative call; the
// webhook never invokes it.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/proxydrop/pkg/domain"
)

// DefaultAPIBase is the platform REST API root.
const DefaultAPIBase = "https://discord.com/api/v10"

// CommandTypeChatInput marks a slash command.
const CommandTypeChatInput = 1

// Installation contexts a command is available in.
const (
	ContextGuild          = 0
	ContextBotDM          = 1
	ContextPrivateChannel = 2
)

// Descriptor is one command definition as the registry expects it.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type"`
	Contexts    []int  `json:"contexts"`
}

// RegisteredCommand is the subset of the registry's answer worth reporting.
type RegisteredCommand struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

var descriptions = map[string]string{
	domain.CommandHTTP:   "Post http proxies to this channel.",
	domain.CommandHTTPS:  "Post https proxies to this channel.",
	domain.CommandSOCKS4: "Post socks4 proxies to this channel.",
	domain.CommandSOCKS5: "Post socks5 proxies to this channel.",
	domain.CommandAll:    "Post http, https, socks4 and socks5 proxies to this channel.",
	domain.CommandInvite: "Get a link to install this app in your server or DMs.",
}

// Commands returns the six command descriptors in registration order.
func Commands() []Descriptor {
	out := make([]Descriptor, 0, len(domain.CommandNames))
	for _, name := range domain.CommandNames {
		out = append(out, Descriptor{
			Name:        name,
			Description: descriptions[name],
			Type:        CommandTypeChatInput,
			Contexts:    []int{ContextGuild, ContextBotDM, ContextPrivateChannel},
		})
	}
	return out
}

// Options configures a Client.
type Options struct {
	APIBase       string
	ApplicationID string
	Token         string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client registers commands for one application.
type Client struct {
	apiBase string
	appID   string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.ApplicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", domain.ErrConfigInvalid)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: bot token is required", domain.ErrConfigInvalid)
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{apiBase: base, appID: opts.ApplicationID, token: opts.Token, http: httpClient, logger: logger}, nil
}

// Endpoint returns the bulk-overwrite URL for the application's commands.
func (c *Client) Endpoint() string {
	return c.apiBase + "/applications/" + c.appID + "/commands"
}

// Register replaces the application's global commands with Commands().
func (c *Client) Register(ctx context.Context) ([]RegisteredCommand, error) {
	payload, err := json.Marshal(Commands())
	if err != nil {
		return nil, fmt.Errorf("encode commands: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read register response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RegisterError{Status: resp.StatusCode, URL: c.Endpoint(), Body: string(body)}
	}

	var registered []RegisteredCommand
	if err := json.Unmarshal(body, &registered); err != nil {
		return nil, fmt.Errorf("decode register response: %w", err)
	}
	c.logger.InfoContext(ctx, "Registered all commands", "count", len(registered))
	return registered, nil
}

// RegisterError is returned when the registry answers with a non-2xx status.
type RegisterError struct {
	Status int
	URL    string
	Body   string
}

func (e *RegisterError) Error() string {
	msg := fmt.Sprintf("error registering commands: %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsUnauthorized reports whether err is a registry rejection of the token.
func IsUnauthorized(err error) bool {
	var re *RegisterError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}

// Package main is the entry point for the proxydrop binary. It serves the
// interactions webhook and registers the application's slash commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	webhooktls "github.com/polisai/proxydrop/internal/tls"
	"github.com/polisai/proxydrop/pkg/config"
	"github.com/polisai/proxydrop/pkg/logging"
	"github.com/polisai/proxydrop/pkg/registry"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for proxydrop.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proxydrop",
		Short: "Chat interactions webhook that posts proxy lists",
		Long: `proxydrop answers signed slash-command callbacks with proxy lists fetched
from an upstream API.

Example:
  proxydrop serve --config proxydrop.yaml
  DISCORD_TOKEN=... proxydrop register --config proxydrop.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newRegisterCmd(), newCertCmd())
	return rootCmd
}

// readConfig loads the file named by --config and applies --log-level.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactions webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		return err
	}
	defer a.Close()

	logger.Info("Starting proxydrop",
		"addr", cfg.Server.Addr,
		"application_id", cfg.Discord.ApplicationID,
		"cache_backend", cfg.Cache.Backend,
		"metrics", cfg.Metrics.Enabled,
		"tls", cfg.Server.TLS.Enabled,
	)

	if err := a.server.ListenAndServe(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("proxydrop stopped")
	return nil
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the slash commands with the platform",
		Long: `Replaces the application's global slash commands with http, https, socks4,
socks5, all and invite. Global registration can take minutes to propagate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateRegistrar(); err != nil {
				return err
			}

			logger := logging.NewLogger(logging.Config{
				Level:  cfg.Logging.Level,
				Format: "text",
				Output: cmd.ErrOrStderr(),
			})

			client, err := registry.NewClient(registry.Options{
				APIBase:       cfg.Discord.APIBase,
				ApplicationID: cfg.Discord.ApplicationID,
				Token:         cfg.Discord.Token,
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			registered, err := client.Register(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(registered)
		},
	}
}

func newCertCmd() *cobra.Command {
	var (
		commonName string
		dnsNames   []string
		ips        []string
		validFor   time.Duration
		keySize    int
		outDir     string
	)

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate a self-signed certificate for local TLS testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := webhooktls.CertificateOptions{
				CommonName: commonName,
				DNSNames:   dnsNames,
				ValidFor:   validFor,
				KeySize:    keySize,
			}
			for _, raw := range ips {
				ip := net.ParseIP(strings.TrimSpace(raw))
				if ip == nil {
					return fmt.Errorf("invalid IP address %q", raw)
				}
				opts.IPAddresses = append(opts.IPAddresses, ip)
			}

			certPEM, keyPEM, err := webhooktls.GenerateSelfSigned(opts)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			certFile := filepath.Join(outDir, "cert.pem")
			keyFile := filepath.Join(outDir, "key.pem")
			if err := webhooktls.WriteFiles(certPEM, keyPEM, certFile, keyFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Certificate: %s\nPrivate key: %s\n", certFile, keyFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "localhost", "Common name for the certificate")
	cmd.Flags().StringSliceVar(&dnsNames, "dns", nil, "DNS names (SANs)")
	cmd.Flags().StringSliceVar(&ips, "ips", nil, "IP addresses (SANs)")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "Certificate validity duration")
	cmd.Flags().IntVar(&keySize, "key-size", 2048, "RSA key size in bits")
	cmd.Flags().StringVar(&outDir, "output-dir", ".", "Output directory for cert.pem and key.pem")
	return cmd
}

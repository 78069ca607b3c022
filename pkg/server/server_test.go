package server

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webhooktls "github.com/polisai/proxydrop/internal/tls"
)

func TestServer_ServesTLS(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, err := webhooktls.GenerateSelfSigned(webhooktls.CertificateOptions{})
	require.NoError(t, err)
	certFile, keyFile := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	require.NoError(t, webhooktls.WriteFiles(certPEM, keyPEM, certFile, keyFile))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := webhooktls.NewCertificateManager(certFile, keyFile, logger)
	require.NoError(t, err)
	tlsConfig, err := webhooktls.BuildServer(webhooktls.Config{CertFile: certFile, KeyFile: keyFile}, manager)
	require.NoError(t, err)

	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(Options{Addr: ln.Addr().String(), ShutdownTimeout: time.Second, TLS: tlsConfig}, f.handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{
		//nolint:gosec // self-signed test certificate
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "👋 "+testAppID, string(body))
	assert.NotNil(t, resp.TLS)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

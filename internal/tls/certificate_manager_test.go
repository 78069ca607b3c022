package tls

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePair(t *testing.T, dir, cn string) (string, string) {
	t.Helper()
	certPEM, keyPEM, err := GenerateSelfSigned(CertificateOptions{CommonName: cn})
	require.NoError(t, err)
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, WriteFiles(certPEM, keyPEM, certFile, keyFile))
	return certFile, keyFile
}

func TestCertificateManager_Load(t *testing.T) {
	certFile, keyFile := writePair(t, t.TempDir(), "webhook.local")

	m, err := NewCertificateManager(certFile, keyFile, discardLogger())
	require.NoError(t, err)
	defer m.Close()

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "webhook.local", cert.Leaf.Subject.CommonName)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCertificateManager_Errors(t *testing.T) {
	_, err := NewCertificateManager("", "key.pem", discardLogger())
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = NewCertificateManager(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing.key"), discardLogger())
	assert.Error(t, err)
}

func TestCertificateManager_RejectsExpired(t *testing.T) {
	certFile, keyFile := writePair(t, t.TempDir(), "expired.local")

	m, err := NewCertificateManager(certFile, keyFile, discardLogger())
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * 365 * 24 * time.Hour) }
	assert.ErrorContains(t, m.Reload(), "expired")

	// previous certificate stays in service
	cert, err := m.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "expired.local", cert.Leaf.Subject.CommonName)
}

func TestCertificateManager_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir, "first.local")

	m, err := NewCertificateManager(certFile, keyFile, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	writePair(t, dir, "second.local")

	assert.Eventually(t, func() bool {
		cert, err := m.GetCertificate(nil)
		return err == nil && cert.Leaf.Subject.CommonName == "second.local"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Watch(ctx), ErrManagerClosed)
}

func TestBuildServer(t *testing.T) {
	certFile, keyFile := writePair(t, t.TempDir(), "localhost")
	m, err := NewCertificateManager(certFile, keyFile, discardLogger())
	require.NoError(t, err)

	cfg, err := BuildServer(Config{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}, m)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)

	_, err = BuildServer(Config{MinVersion: "1.0"}, m)
	assert.Error(t, err)
}

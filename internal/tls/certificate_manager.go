package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrManagerClosed is returned after Close.
var ErrManagerClosed = errors.New("certificate manager is closed")

const reloadDebounce = 100 * time.Millisecond

// CertificateManager holds one certificate/key pair and swaps it atomically
// on reload.
type CertificateManager struct {
	certFile string
	keyFile  string
	current  atomic.Pointer[tls.Certificate]
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewCertificateManager loads and validates the pair.
func NewCertificateManager(certFile, keyFile string, logger *slog.Logger) (*CertificateManager, error) {
	if strings.TrimSpace(certFile) == "" || strings.TrimSpace(keyFile) == "" {
		return nil, errors.New("both cert_file and key_file are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &CertificateManager{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   logger,
		now:      time.Now,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (m *CertificateManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := m.current.Load()
	if cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return cert, nil
}

// Reload reads the files again. On failure the previous certificate stays in
// service.
func (m *CertificateManager) Reload() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return fmt.Errorf("load certificate %s: %w", m.certFile, err)
	}
	leaf, err := m.validate(&cert)
	if err != nil {
		return fmt.Errorf("validate certificate %s: %w", m.certFile, err)
	}
	cert.Leaf = leaf
	m.current.Store(&cert)

	m.logger.Info("Certificate loaded",
		"cert_file", m.certFile,
		"subject", leaf.Subject.String(),
		"dns_names", leaf.DNSNames,
		"not_after", leaf.NotAfter)
	return nil
}

func (m *CertificateManager) validate(cert *tls.Certificate) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}

	now := m.now()
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("certificate not valid before %s", leaf.NotBefore)
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("certificate expired at %s", leaf.NotAfter)
	}
	if days := int(leaf.NotAfter.Sub(now).Hours() / 24); days <= 30 {
		m.logger.Warn("Certificate expires soon", "days_until_expiry", days, "expiry_date", leaf.NotAfter)
	}

	switch leaf.SignatureAlgorithm {
	case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA:
		return nil, fmt.Errorf("certificate uses weak signature algorithm: %s", leaf.SignatureAlgorithm)
	}
	switch pub := leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		if pub.N.BitLen() < 2048 {
			return nil, fmt.Errorf("RSA key size too small: %d bits (minimum 2048)", pub.N.BitLen())
		}
	case *ecdsa.PublicKey:
		if pub.Curve.Params().BitSize < 256 {
			return nil, fmt.Errorf("ECDSA key size too small: %d bits (minimum 256)", pub.Curve.Params().BitSize)
		}
	}
	return leaf, nil
}

// Watch reloads the certificate whenever either file is written, created or
// renamed into place. It returns once the watcher is running; the loop stops
// when ctx is done or Close is called.
func (m *CertificateManager) Watch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	// Watch directories so atomic rename-into-place is seen.
	dirs := map[string]struct{}{filepath.Dir(m.certFile): {}, filepath.Dir(m.keyFile): {}}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	m.watcher = watcher

	go m.watchLoop(ctx, watcher)
	m.logger.Info("Watching certificate files", "cert_file", m.certFile, "key_file", m.keyFile)
	return nil
}

func (m *CertificateManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			_ = m.Close()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != m.certFile && name != m.keyFile {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			if err := m.Reload(); err != nil {
				m.logger.Error("Failed to reload certificate after file change", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Certificate file watcher error", "error", err)
		}
	}
}

// Close stops watching. The last loaded certificate stays usable.
func (m *CertificateManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

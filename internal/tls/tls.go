package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Config describes the listener's certificate material.
type Config struct {
	CertFile   string
	KeyFile    string
	MinVersion string
}

// ParseMinVersion converts "1.2" or "1.3" into the crypto/tls constant.
// Empty selects TLS 1.2.
func ParseMinVersion(version string) (uint16, error) {
	switch strings.TrimSpace(version) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min version %q", version)
	}
}

// BuildServer constructs a server TLS configuration that serves whatever
// certificate the manager currently holds.
func BuildServer(cfg Config, manager *CertificateManager) (*tls.Config, error) {
	minVersion, err := ParseMinVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: manager.GetCertificate,
	}, nil
}

// Package tls builds the server TLS configuration of the metrics listener.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"

	defaultValidDays = 365 * 5
)

// Config selects the certificate of a TLS listener. Explicit files win over
// Dir; with AutoGenerate a self-signed pair is created in Dir when missing.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"` // DNS names and IPs of a generated certificate
	MinVersion   string   `mapstructure:"min_version"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, true
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Paths returns the certificate and key files c refers to.
func (c Config) Paths() (certPath, keyPath string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, tlsCrt), filepath.Join(c.Dir, tlsKey)
	}
	return "", ""
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Certificates are read on every handshake so rotated files take effect
// without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, ok := parseTLSVersion(c.MinVersion)
	if !ok {
		return nil, fmt.Errorf("unsupported TLS version %q", c.MinVersion)
	}
	certPath, keyPath := c.Paths()
	if certPath == "" {
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}
	if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
		if err := generateCertificate(c, certPath, keyPath); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 -- the minimum version is operator configured and at least 1.2
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// getCertificationFunc returns a function that loads certificates dynamically
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   hosts[0],
		Organization: "appmgr",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, defaultValidDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}

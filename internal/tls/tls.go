// Package tls builds the server-side TLS configuration for the timer API,
// generating a self-signed certificate on first use when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/manifest/internal/config"
)

// File names used for directory-based certificates.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

// parseVersion parses a TLS version string; ok is false for unknown or
// default values.
func parseVersion(ver string) (v uint16, ok bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveVersions defaults both bounds to TLS 1.3.
func resolveVersions(cfg config.TLSConfig) (minVer, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(cfg.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(cfg.MaxVersion); ok {
		maxVer = v
	}
	if minVer > maxVer {
		maxVer = minVer
	}
	return minVer, maxVer
}

// safeReadFile reads p, refusing paths outside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Explicit cert/key files take priority over a certificate directory.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveVersions(cfg)

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return newConfig(cfg.CertFile, cfg.KeyFile, minVer, maxVer)
	}

	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, CertFile)
		keyPath := filepath.Join(cfg.Dir, KeyFile)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(cfg.AutoGen, cfg.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer)
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// Development returns a config that self-signs a localhost certificate
// into dir.
func Development(dir string) config.TLSConfig {
	return config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen: config.AutoGenTLS{
			CommonName: "localhost",
			DNSNames:   []string{"localhost"},
			ValidDays:  365,
		},
	}
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) (*tls.Config, error) {
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(ag config.AutoGenTLS, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}
	return GenerateSelfSigned(CertConfig{
		CommonName:   valOr(ag.CommonName, "localhost"),
		Organization: valOr(ag.Organization, "manifest"),
		DNSNames:     sliceOr(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  sliceOr(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, CertFile),
		KeyPath:      filepath.Join(destDir, KeyFile),
		CACertPath:   filepath.Join(destDir, CACertFile),
	})
}

func valOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func sliceOr(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

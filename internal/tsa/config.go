// Package tsa issues and verifies RFC 3161 timestamp tokens. It ships an
// in-process Time Stamping Authority for development and self-hosted
// deployments, plus HTTP providers for external authorities.
package tsa

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig holds configuration for the in-process TSA.
type ServerConfig struct {
	// PolicyOID identifies the policy under which timestamps are issued
	PolicyOID string

	// Certificate is the TSA signing certificate
	Certificate *x509.Certificate

	// CertificateChain is the full chain used for verification
	CertificateChain []*x509.Certificate

	// PrivateKey signs timestamp tokens. In production this should come
	// from an HSM.
	PrivateKey crypto.Signer

	// HashAlgorithm for timestamp tokens (default: SHA-256)
	HashAlgorithm crypto.Hash

	// AccuracySeconds is the claimed accuracy of issued timestamps
	AccuracySeconds int
}

// DefaultServerConfig returns a configuration with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		PolicyOID:       "1.3.6.1.4.1.99999.2.1",
		HashAlgorithm:   crypto.SHA256,
		AccuracySeconds: 1,
	}
}

// LoadCertificate loads a PEM certificate and key from disk into the config.
func (c *ServerConfig) LoadCertificate(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	cert, key, err := parsePEMPair(certPEM, keyPEM)
	if err != nil {
		return err
	}

	c.Certificate = cert
	c.CertificateChain = []*x509.Certificate{cert}
	c.PrivateKey = key
	return nil
}

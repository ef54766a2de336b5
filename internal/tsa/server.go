package tsa

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitorus/timestamp"
)

// Server implements an RFC 3161 compliant Time Stamping Authority.
type Server struct {
	config        *ServerConfig
	serialCounter uint64
	mu            sync.RWMutex
}

// NewServer creates a new TSA server with the given configuration.
func NewServer(config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		config:        config,
		serialCounter: uint64(time.Now().UnixNano()),
	}, nil
}

// NewServerWithGeneratedCert creates a TSA server with a self-signed
// certificate. Useful for development and tests; production deployments
// load a proper PKI certificate via ServerConfig.LoadCertificate.
func NewServerWithGeneratedCert(orgName string) (*Server, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	// Timestamp Authority extended key usage OID
	tsaExtKeyUsage := asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization:       []string{orgName},
			OrganizationalUnit: []string{"Time Stamping Authority"},
			CommonName:         fmt.Sprintf("%s TSA", orgName),
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		UnknownExtKeyUsage:    []asn1.ObjectIdentifier{tsaExtKeyUsage},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	config := DefaultServerConfig()
	config.Certificate = cert
	config.CertificateChain = []*x509.Certificate{cert}
	config.PrivateKey = privateKey

	return NewServer(config)
}

// Timestamp creates an RFC 3161 timestamp token for the given hash.
func (s *Server) Timestamp(ctx context.Context, dataHash []byte) (*TimestampResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config.Certificate == nil || s.config.PrivateKey == nil {
		return nil, fmt.Errorf("TSA certificate or private key not configured")
	}

	serial := atomic.AddUint64(&s.serialCounter, 1)

	tsReq := timestamp.Request{
		HashAlgorithm: s.config.HashAlgorithm,
		HashedMessage: dataHash,
	}

	// In production the clock should come from a trusted NTP source
	now := time.Now().UTC()

	tsToken, err := s.createTimestampToken(&tsReq, now, serial)
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp token: %w", err)
	}

	return &TimestampResponse{
		SerialNumber:  serial,
		Timestamp:     now,
		HashAlgorithm: s.config.HashAlgorithm.String(),
		HashedMessage: hex.EncodeToString(dataHash),
		Token:         tsToken,
		PolicyOID:     s.config.PolicyOID,
		Issuer:        s.config.Certificate.Subject.CommonName,
	}, nil
}

// TimestampHash creates a timestamp for a hex-encoded hash string.
func (s *Server) TimestampHash(ctx context.Context, hashHex string) (*TimestampResponse, error) {
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hash hex: %w", err)
	}
	return s.Timestamp(ctx, hashBytes)
}

// Verify verifies a timestamp token against the original hash. Parse and
// mismatch failures are reported in the result, not as errors.
func (s *Server) Verify(ctx context.Context, token []byte, originalHash []byte) (*VerifyResult, error) {
	var resp timestampToken
	if _, err := asn1.Unmarshal(token, &resp); err != nil {
		return &VerifyResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to parse timestamp token: %v", err),
		}, nil
	}

	var tsInfo timestampInfo
	if _, err := asn1.Unmarshal(resp.TSTInfo, &tsInfo); err != nil {
		return &VerifyResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to parse TSTInfo: %v", err),
		}, nil
	}

	if !compareHashes(tsInfo.MessageImprint.HashedMessage, originalHash) {
		return &VerifyResult{
			Valid:   false,
			Message: "hash mismatch: timestamp was created for different data",
		}, nil
	}

	cert := s.config.Certificate
	if len(resp.Certificate) > 0 {
		parsed, err := x509.ParseCertificate(resp.Certificate)
		if err == nil {
			cert = parsed
		}
	}
	if cert == nil {
		return &VerifyResult{
			Valid:   false,
			Message: "no certificate available for signature verification",
		}, nil
	}

	digest := sha256.Sum256(resp.TSTInfo)
	if err := verifySignature(cert, digest[:], resp.Signature); err != nil {
		return &VerifyResult{
			Valid:   false,
			Message: fmt.Sprintf("signature verification failed: %v", err),
		}, nil
	}

	return &VerifyResult{
		Valid:        true,
		Message:      "timestamp verified successfully",
		Timestamp:    tsInfo.GenTime,
		SerialNumber: tsInfo.SerialNumber.Uint64(),
		Issuer:       cert.Subject.CommonName,
	}, nil
}

// createTimestampToken creates the actual RFC 3161 timestamp token.
func (s *Server) createTimestampToken(req *timestamp.Request, now time.Time, serial uint64) ([]byte, error) {
	policy, err := parseOID(s.config.PolicyOID)
	if err != nil {
		return nil, err
	}

	tsInfo := timestampInfo{
		Version: 1,
		Policy:  policy,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, // SHA-256
			},
			HashedMessage: req.HashedMessage,
		},
		SerialNumber: big.NewInt(int64(serial)),
		GenTime:      now,
		Accuracy: accuracy{
			Seconds: s.config.AccuracySeconds,
		},
		Ordering: false,
	}

	tstInfoDER, err := asn1.Marshal(tsInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TSTInfo: %w", err)
	}

	hash := sha256.Sum256(tstInfoDER)
	signature, err := s.config.PrivateKey.Sign(rand.Reader, hash[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign timestamp: %w", err)
	}

	token := timestampToken{
		TSTInfo:     tstInfoDER,
		Signature:   signature,
		Certificate: s.config.Certificate.Raw,
	}

	tokenDER, err := asn1.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}

	return tokenDER, nil
}

// GetCertificate returns the TSA certificate.
func (s *Server) GetCertificate() *x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Certificate
}

// GetCertificateChain returns the full certificate chain.
func (s *Server) GetCertificateChain() []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.CertificateChain
}

func verifySignature(cert *x509.Certificate, digest, signature []byte) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, signature)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, signature) {
			return fmt.Errorf("invalid ECDSA signature")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

func compareHashes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if start == i {
				return nil, fmt.Errorf("invalid OID %q", s)
			}
			n := 0
			for _, c := range s[start:i] {
				if c < '0' || c > '9' {
					return nil, fmt.Errorf("invalid OID %q", s)
				}
				n = n*10 + int(c-'0')
			}
			oid = append(oid, n)
			start = i + 1
		}
	}
	return oid, nil
}

func parsePEMPair(certPEM, keyPEM []byte) (*x509.Certificate, crypto.Signer, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in private key")
	}

	var key crypto.Signer
	switch keyBlock.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(keyBlock.Bytes)
	default:
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err == nil {
			signer, ok := parsed.(crypto.Signer)
			if !ok {
				return nil, nil, fmt.Errorf("private key does not implement crypto.Signer")
			}
			key = signer
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return cert, key, nil
}

// TimestampResponse contains the result of a timestamp operation.
type TimestampResponse struct {
	SerialNumber  uint64    `json:"serial_number"`
	Timestamp     time.Time `json:"timestamp"`
	HashAlgorithm string    `json:"hash_algorithm"`
	HashedMessage string    `json:"hashed_message"`
	Token         []byte    `json:"token"`
	PolicyOID     string    `json:"policy_oid"`
	Issuer        string    `json:"issuer"`
}

// VerifyResult contains the result of timestamp verification.
type VerifyResult struct {
	Valid        bool      `json:"valid"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
	SerialNumber uint64    `json:"serial_number,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
}

// ASN.1 structures for RFC 3161

type timestampInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	Accuracy       accuracy `asn1:"optional"`
	Ordering       bool     `asn1:"optional,default:false"`
	Nonce          *big.Int `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

type timestampToken struct {
	TSTInfo     []byte
	Signature   []byte
	Certificate []byte `asn1:"optional"`
}

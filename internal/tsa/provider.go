package tsa

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"

	"github.com/digitorus/timestamp"
)

// Provider issues and verifies timestamp tokens. Implementations must treat
// a well-formed-but-mismatching token as a non-error verification failure;
// errors are reserved for transport and encoding problems.
type Provider interface {
	Name() string
	Timestamp(ctx context.Context, imprint []byte) (*TimestampResponse, error)
	Verify(ctx context.Context, token []byte, imprint []byte) (*VerifyResult, error)
}

// LocalProvider serves timestamps from the in-process TSA server.
type LocalProvider struct {
	server *Server
}

// NewLocalProvider wraps the in-process server as a provider.
func NewLocalProvider(server *Server) *LocalProvider {
	return &LocalProvider{server: server}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Timestamp(ctx context.Context, imprint []byte) (*TimestampResponse, error) {
	return p.server.Timestamp(ctx, imprint)
}

func (p *LocalProvider) Verify(ctx context.Context, token []byte, imprint []byte) (*VerifyResult, error) {
	return p.server.Verify(ctx, token, imprint)
}

// HTTPProvider talks to an external RFC 3161 authority over the standard
// application/timestamp-query protocol.
type HTTPProvider struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider for an external TSA endpoint.
func NewHTTPProvider(name, url string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{name: name, url: url, client: client}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Timestamp(ctx context.Context, imprint []byte) (*TimestampResponse, error) {
	req := &timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: imprint,
		Certificates:  true,
	}

	reqDER, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("TSA request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TSA returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read TSA response: %w", err)
	}

	ts, err := timestamp.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TSA response: %w", err)
	}

	if !compareHashes(ts.HashedMessage, imprint) {
		return nil, fmt.Errorf("TSA response covers a different hash")
	}

	var serial uint64
	if ts.SerialNumber != nil {
		serial = ts.SerialNumber.Uint64()
	}
	issuer := ""
	if len(ts.Certificates) > 0 {
		issuer = ts.Certificates[0].Subject.CommonName
	}

	return &TimestampResponse{
		SerialNumber:  serial,
		Timestamp:     ts.Time,
		HashAlgorithm: crypto.SHA256.String(),
		HashedMessage: fmt.Sprintf("%x", ts.HashedMessage),
		Token:         body,
		PolicyOID:     ts.Policy.String(),
		Issuer:        issuer,
	}, nil
}

// Verify parses a stored response and checks the message imprint. The check
// is local: it never calls the authority, so a network outage cannot turn
// a valid token into an invalid one.
func (p *HTTPProvider) Verify(ctx context.Context, token []byte, imprint []byte) (*VerifyResult, error) {
	ts, err := timestamp.ParseResponse(token)
	if err != nil {
		return &VerifyResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to parse timestamp token: %v", err),
		}, nil
	}

	if !compareHashes(ts.HashedMessage, imprint) {
		return &VerifyResult{
			Valid:   false,
			Message: "hash mismatch: timestamp was created for different data",
		}, nil
	}

	result := &VerifyResult{
		Valid:     true,
		Message:   "timestamp verified successfully",
		Timestamp: ts.Time,
	}
	if ts.SerialNumber != nil {
		result.SerialNumber = ts.SerialNumber.Uint64()
	}
	if len(ts.Certificates) > 0 {
		result.Issuer = ts.Certificates[0].Subject.CommonName
	}
	return result, nil
}

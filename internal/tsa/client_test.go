package tsa

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/evidentia/platform/internal/hashing"
	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
)

func testConfig() config.TSAConfig {
	return config.TSAConfig{
		RequestTimeout:    5 * time.Second,
		MaxAttempts:       2,
		RequestsPerSecond: 100,
		TokenValidityDays: 365,
	}
}

type failingProvider struct {
	calls int
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Timestamp(ctx context.Context, imprint []byte) (*TimestampResponse, error) {
	p.calls++
	return nil, fmt.Errorf("connection refused")
}

func (p *failingProvider) Verify(ctx context.Context, token, imprint []byte) (*VerifyResult, error) {
	return nil, fmt.Errorf("connection refused")
}

func newLocalProvider(t *testing.T) *LocalProvider {
	t.Helper()
	server, err := NewServerWithGeneratedCert("Test Org")
	if err != nil {
		t.Fatalf("failed to create TSA server: %v", err)
	}
	return NewLocalProvider(server)
}

func TestClientSealAndVerify(t *testing.T) {
	client := NewClient(testConfig(), newLocalProvider(t))
	ctx := context.Background()

	imprint := hashing.HashString("evidence payload")
	token, err := client.Seal(ctx, imprint)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	if token.Provider != "local" {
		t.Errorf("expected provider local, got %s", token.Provider)
	}
	if token.Status != TokenStatusValid {
		t.Errorf("expected valid status, got %s", token.Status)
	}
	if token.HashedMessage != imprint {
		t.Errorf("token covers wrong imprint: %s", token.HashedMessage)
	}
	if !token.ExpiresAt.After(token.IssuedAt) {
		t.Error("token expiry must be after issuance")
	}

	result, err := client.Verify(ctx, token, imprint)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid token, got: %s", result.Message)
	}
}

func TestClientVerifyRejectsWrongImprint(t *testing.T) {
	client := NewClient(testConfig(), newLocalProvider(t))
	ctx := context.Background()

	token, err := client.Seal(ctx, hashing.HashString("original"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	result, err := client.Verify(ctx, token, hashing.HashString("tampered"))
	if err != nil {
		t.Fatalf("verify returned transport error for a mismatch: %v", err)
	}
	if result.Valid {
		t.Error("expected verification failure for wrong imprint")
	}
}

func TestClientVerifyRejectsTamperedToken(t *testing.T) {
	client := NewClient(testConfig(), newLocalProvider(t))
	ctx := context.Background()

	imprint := hashing.HashString("payload")
	token, err := client.Seal(ctx, imprint)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	// Flip a byte inside the signed TSTInfo at the front of the token
	token.Raw[40] ^= 0xFF

	result, err := client.Verify(ctx, token, imprint)
	if err != nil {
		t.Fatalf("verify returned transport error: %v", err)
	}
	if result.Valid {
		t.Error("expected verification failure for tampered token")
	}
}

func TestClientFallsBackToSecondary(t *testing.T) {
	primary := &failingProvider{}
	client := NewClient(testConfig(), primary, newLocalProvider(t))

	token, err := client.Seal(context.Background(), hashing.HashString("data"))
	if err != nil {
		t.Fatalf("seal failed despite healthy fallback: %v", err)
	}
	if token.Provider != "local" {
		t.Errorf("expected fallback provider, got %s", token.Provider)
	}
	if primary.calls != 2 {
		t.Errorf("expected 2 attempts on primary, got %d", primary.calls)
	}
}

func TestClientAllProvidersFailing(t *testing.T) {
	client := NewClient(testConfig(), &failingProvider{}, &failingProvider{})

	_, err := client.Seal(context.Background(), hashing.HashString("data"))
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Errorf("expected unavailable error, got %v", err)
	}
}

func TestClientRejectsNonHexImprint(t *testing.T) {
	client := NewClient(testConfig(), newLocalProvider(t))

	if _, err := client.Seal(context.Background(), "not-hex!"); err == nil {
		t.Error("expected error for non-hex imprint")
	}
}

func TestServerRoundTrip(t *testing.T) {
	server, err := NewServerWithGeneratedCert("Test Org")
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx := context.Background()
	hash, _ := hex.DecodeString(hashing.HashString("document bytes"))

	resp, err := server.Timestamp(ctx, hash)
	if err != nil {
		t.Fatalf("timestamp failed: %v", err)
	}
	if resp.SerialNumber == 0 {
		t.Error("expected non-zero serial number")
	}

	result, err := server.Verify(ctx, resp.Token, hash)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid verification, got: %s", result.Message)
	}
	if result.SerialNumber != resp.SerialNumber {
		t.Errorf("serial mismatch: %d vs %d", result.SerialNumber, resp.SerialNumber)
	}
}

func TestServerSerialNumbersIncrease(t *testing.T) {
	server, err := NewServerWithGeneratedCert("Test Org")
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx := context.Background()
	hash, _ := hex.DecodeString(hashing.HashString("x"))

	first, _ := server.Timestamp(ctx, hash)
	second, _ := server.Timestamp(ctx, hash)
	if second.SerialNumber <= first.SerialNumber {
		t.Errorf("serial numbers must increase: %d then %d", first.SerialNumber, second.SerialNumber)
	}
}

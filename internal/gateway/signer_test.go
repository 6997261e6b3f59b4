package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateSignature(t *testing.T) {
	body := []byte(`{"pendingId":"sbx_pay_1","status":"CONFIRMED"}`)
	sig := GenerateSignature("cbsec_test", 1736600000, body)

	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64", len(sig))
	}
	if sig != GenerateSignature("cbsec_test", 1736600000, body) {
		t.Error("signature is not deterministic")
	}
	if sig == GenerateSignature("cbsec_test", 1736600001, body) {
		t.Error("different timestamp should produce different signature")
	}
	if sig == GenerateSignature("cbsec_testx", 1736600000, body) {
		t.Error("different secret should produce different signature")
	}
}

func TestValidateSignature(t *testing.T) {
	secret := "test_secret"
	now := time.Unix(1736600000, 0)
	payload := []byte(`{"test":"data"}`)
	validSig := GenerateSignature(secret, now.Unix(), payload)

	tests := []struct {
		name      string
		secret    string
		signature string
		timestamp int64
		payload   []byte
		wantErr   error
	}{
		{"valid signature", secret, validSig, now.Unix(), payload, nil},
		{"wrong secret", "other", validSig, now.Unix(), payload, ErrInvalidSignature},
		{"tampered payload", secret, validSig, now.Unix(), []byte(`{"test":"evil"}`), ErrInvalidSignature},
		{"too old", secret, GenerateSignature(secret, now.Unix()-600, payload), now.Unix() - 600, payload, ErrReplayWindowExceeded},
		{"too far ahead", secret, GenerateSignature(secret, now.Unix()+600, payload), now.Unix() + 600, payload, ErrReplayWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignature(tt.secret, tt.signature, tt.timestamp, tt.payload, DefaultReplayWindow, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextCheckDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{-1, 24 * time.Second, 36 * time.Second},
		{0, 24 * time.Second, 36 * time.Second},
		{1, 48 * time.Second, 72 * time.Second},
		{3, 4 * time.Minute, 6 * time.Minute},
		{10, 4 * time.Minute, 6 * time.Minute},
	}

	for _, tt := range tests {
		for i := 0; i < 10; i++ {
			delay := NextCheckDelay(tt.attempt)
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("NextCheckDelay(%d) = %v, want between %v and %v",
					tt.attempt, delay, tt.minDelay, tt.maxDelay)
			}
		}
	}
}

func TestParsePayoutStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PayoutStatus
	}{
		{"confirmed", PayoutConfirmed},
		{"SUCCESS", PayoutConfirmed},
		{" failed ", PayoutFailed},
		{"Pending", PayoutPending},
	}
	for _, tt := range tests {
		got, err := ParsePayoutStatus(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParsePayoutStatus(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := ParsePayoutStatus("maybe"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}

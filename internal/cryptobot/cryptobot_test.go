package cryptobot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"
)

func testClient() *Client {
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{apiToken: "12345:testtoken", log: log}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func sign(token string, body []byte) string {
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c := testClient()
	body := []byte(`{"update_type":"invoice_paid"}`)

	if !c.VerifySignature(body, sign("12345:testtoken", body)) {
		t.Error("valid signature rejected")
	}
	if c.VerifySignature(body, sign("wrong-token", body)) {
		t.Error("signature with wrong key accepted")
	}
	if c.VerifySignature([]byte("tampered"), sign("12345:testtoken", body)) {
		t.Error("signature over different body accepted")
	}
	if c.VerifySignature(body, "") {
		t.Error("empty signature accepted")
	}
}

func TestHandleUpdatePaid(t *testing.T) {
	c := testClient()
	body := []byte(`{
		"update_type": "invoice_paid",
		"payload": {
			"invoice_id": 777,
			"status": "paid",
			"payload": "123456789:month_1"
		}
	}`)

	result := c.HandleUpdate(body)
	if result == nil {
		t.Fatal("expected paid result")
	}
	if result.InvoiceId != "777" {
		t.Errorf("invoice id: got %q, want 777", result.InvoiceId)
	}
	if result.TelegramId != 123456789 {
		t.Errorf("telegram id: got %d", result.TelegramId)
	}
	if result.PlanCode != "month_1" {
		t.Errorf("plan code: got %q", result.PlanCode)
	}
}

func TestHandleUpdateIgnored(t *testing.T) {
	c := testClient()

	tests := []struct {
		name string
		body string
	}{
		{"other update type", `{"update_type":"invoice_expired","payload":{"invoice_id":1,"payload":"1:p"}}`},
		{"malformed json", `{"update_type":`},
		{"payload without plan", `{"update_type":"invoice_paid","payload":{"invoice_id":1,"payload":"garbage"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.HandleUpdate([]byte(tc.body)); got != nil {
				t.Errorf("expected nil, got %+v", got)
			}
		})
	}
}

package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

func receiptFixture() (entitlement.Snapshot, entitlement.PaymentRecord) {
	end := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	snap := entitlement.Snapshot{
		AccountID:     "acct-1",
		Valid:         true,
		Plan:          entitlement.PlanMonthly,
		EndDate:       end,
		DaysRemaining: 30,
	}
	payment := entitlement.PaymentRecord{
		Amount:      999,
		Channel:     entitlement.ChannelBankTransfer,
		ExternalRef: "bank:acme:TX-1",
	}
	return snap, payment
}

func TestSendGrantReceipt(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://bookshelf.test",
		WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	snap, payment := receiptFixture()
	if err := client.SendGrantReceipt(context.Background(), "alice@example.com", snap, payment); err != nil {
		t.Fatalf("send receipt: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.Subject != "Your monthly premium plan is active" {
		t.Errorf("Subject = %q", received.Subject)
	}
	for _, want := range []string{"9.99", "bank transfer", "March 31, 2026", "bank:acme:TX-1", "https://bookshelf.test/account/subscription"} {
		if !strings.Contains(received.TextBody, want) {
			t.Errorf("text body missing %q: %s", want, received.TextBody)
		}
	}
}

func TestSendGrantReceiptAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", "https://bookshelf.test", WithEndpoint(server.URL))
	snap, payment := receiptFixture()
	if err := client.SendGrantReceipt(context.Background(), "alice@example.com", snap, payment); err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestSendGrantReceiptNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://bookshelf.test")
	snap, payment := receiptFixture()
	if err := client.SendGrantReceipt(context.Background(), "alice@example.com", snap, payment); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{999: "9.99", 100: "1.00", 5: "0.05", 12345: "123.45"}
	for in, want := range tests {
		if got := formatAmount(in); got != want {
			t.Errorf("formatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

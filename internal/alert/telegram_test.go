package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"futures-bot/internal/config"
)

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var gotPath string
	var got telegramSendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{
		Enabled:    true,
		BotToken:   "123:abc",
		ChatID:     "42",
		APIBaseURL: srv.URL + "/",
	})
	if err := n.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if got.ChatID != "42" || got.Text != "hello" {
		t.Fatalf("body = %+v", got)
	}
}

func TestTelegramNotifierAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1", APIBaseURL: srv.URL})
	err := n.Notify(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("Notify() error = %v, want chat not found", err)
	}
}

func TestTelegramNotifierDisabled(t *testing.T) {
	n := NewTelegramNotifier(config.TelegramConfig{})
	if err := n.Notify(context.Background(), "x"); err != nil {
		t.Fatalf("Notify() error = %v, want nil when disabled", err)
	}
	if m := NewFromConfig("testnet", config.TelegramConfig{}, zerolog.Nop()); m != nil {
		t.Fatalf("NewFromConfig(disabled) = %v, want nil", m)
	}
}

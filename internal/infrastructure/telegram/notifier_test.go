package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNotify(t *testing.T) {
	t.Parallel()

	var got struct{ path, chat, text, preview string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.path = r.URL.Path
		got.chat = r.PostForm.Get("chat_id")
		got.text = r.PostForm.Get("text")
		got.preview = r.PostForm.Get("disable_web_page_preview")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer srv.Close()

	n := NewNotifier("123:abc", "42")
	n.apiBase = srv.URL

	if err := n.Notify(context.Background(), "Ingestion run failed: article store unavailable"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.path != "/bot123:abc/sendMessage" || got.chat != "42" || got.preview != "true" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.text != "Ingestion run failed: article store unavailable" {
		t.Fatalf("text = %q", got.text)
	}
}

func TestNotifyTruncatesLongText(t *testing.T) {
	t.Parallel()

	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		text = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewNotifier("t", "c")
	n.apiBase = srv.URL

	if err := n.Notify(context.Background(), strings.Repeat("ё", 5000)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := utf8.RuneCountInString(text); got != maxMessageRunes {
		t.Fatalf("sent %d runes, want %d", got, maxMessageRunes)
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatalf("truncated text should end with an ellipsis")
	}
}

func TestNotifyErrors(t *testing.T) {
	t.Parallel()

	if NewNotifier("", "42").Enabled() {
		t.Fatal("notifier without token must be disabled")
	}
	if err := NewNotifier("", "").Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"api rejects", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, "chat not found"},
		{"plain forbidden", http.StatusForbidden, "forbidden", "403"},
		{"ok false with 200", http.StatusOK, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`, "429"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			n := NewNotifier("t", "c")
			n.apiBase = srv.URL
			err := n.Notify(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/outdial-ai/outdial/pkg/core/call"
)

func TestInstructions(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		language string
		want     string
	}{
		{
			name:     "default persona with auto language",
			language: "auto",
			want:     defaultInstructions + " " + autoLanguageDirective,
		},
		{
			name: "empty language treated as auto",
			want: defaultInstructions + " " + autoLanguageDirective,
		},
		{
			name:     "custom prompt keeps language directive",
			prompt:   "Продай тариф.",
			language: "en",
			want:     "Продай тариф. Speak in English.",
		},
		{
			name:     "russian directive",
			language: "ru",
			want:     defaultInstructions + " Говорите на русском языке.",
		},
		{
			name:     "unknown language adds nothing",
			prompt:   "Продай тариф.",
			language: "xx",
			want:     "Продай тариф.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Instructions(tt.prompt, tt.language); got != tt.want {
				t.Errorf("Instructions(%q, %q) = %q, want %q", tt.prompt, tt.language, got, tt.want)
			}
		})
	}
}

func TestDialer_ConfiguresSessionPerCall(t *testing.T) {
	upgrader := websocket.Upgrader{}
	got := make(chan map[string]any, 1)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var update struct {
			Type    string         `json:"type"`
			Session map[string]any `json:"session"`
		}
		if err := conn.ReadJSON(&update); err != nil {
			t.Errorf("read session.update: %v", err)
			return
		}
		got <- update.Session

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)

	d := &Dialer{APIKey: "rt-key", URL: "ws" + strings.TrimPrefix(s.URL, "http")}
	ai, err := d.Dial(context.Background(), call.Options{
		Voice:    "nova",
		Language: "ru",
		Prompt:   "Представь сервис доставки.",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ai.Close()

	select {
	case session := <-got:
		if session["voice"] != "nova" {
			t.Errorf("voice = %v, want nova", session["voice"])
		}
		instructions, _ := session["instructions"].(string)
		if !strings.HasPrefix(instructions, "Представь сервис доставки.") {
			t.Errorf("instructions = %q, want the per-call prompt first", instructions)
		}
		if !strings.Contains(instructions, "Говорите на русском языке.") {
			t.Errorf("language directive missing: %q", instructions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session.update never arrived")
	}
}

func TestDialer_DialFailure(t *testing.T) {
	d := &Dialer{APIKey: "rt-key", URL: "ws://127.0.0.1:1"}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := d.Dial(ctx, call.Options{}); err == nil {
		t.Fatal("expected dial failure")
	}
}

package chat

import (
	"context"
	"errors"
	"testing"
)

type fakeCompleter struct {
	reply    string
	err      error
	messages []Message
	params   Params
}

func (f *fakeCompleter) CompleteWith(ctx context.Context, messages []Message, p Params) (string, error) {
	f.messages = messages
	f.params = p
	return f.reply, f.err
}

type verdict struct {
	Disposition string `json:"disposition"`
	Summary     string `json:"summary"`
}

func TestCompleteJSON(t *testing.T) {
	fake := &fakeCompleter{reply: `{"disposition":"interested","summary":"Клиент заинтересован"}`}

	got, err := CompleteJSON[verdict](context.Background(), fake, "system", "user", Params{Temperature: 0.3})
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if got.Disposition != "interested" || got.Summary != "Клиент заинтересован" {
		t.Fatalf("got = %+v", got)
	}

	if len(fake.messages) != 2 || fake.messages[0].Role != RoleSystem || fake.messages[1].Role != RoleUser {
		t.Fatalf("messages = %+v", fake.messages)
	}
	format, ok := fake.params.ResponseFormat.(jsonSchemaFormat)
	if !ok {
		t.Fatalf("ResponseFormat type = %T", fake.params.ResponseFormat)
	}
	if format.Type != "json_schema" {
		t.Errorf("format type = %q", format.Type)
	}
	if format.JSONSchema.Name != "verdict" {
		t.Errorf("schema name = %q", format.JSONSchema.Name)
	}
	if !format.JSONSchema.Strict {
		t.Error("schema should be strict")
	}
	if format.JSONSchema.Schema == nil {
		t.Error("schema should be reflected")
	}
}

func TestCompleteJSON_FencedReply(t *testing.T) {
	fake := &fakeCompleter{reply: "```json\n{\"disposition\":\"neutral\",\"summary\":\"ок\"}\n```"}

	got, err := CompleteJSON[verdict](context.Background(), fake, "s", "u", Params{})
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if got.Disposition != "neutral" {
		t.Fatalf("got = %+v", got)
	}
}

func TestCompleteJSON_MalformedReply(t *testing.T) {
	fake := &fakeCompleter{reply: "это не JSON"}

	_, err := CompleteJSON[verdict](context.Background(), fake, "s", "u", Params{})
	if !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("CompleteJSON() error = %v, want ErrMalformedReply", err)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

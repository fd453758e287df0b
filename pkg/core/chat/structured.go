package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrMalformedReply indicates the model answered but the reply was not
// valid JSON for the requested schema. Callers that can degrade gracefully
// should test for it with errors.Is.
var ErrMalformedReply = errors.New("chat: malformed structured reply")

// Completer is the slice of Client that structured completion needs.
type Completer interface {
	CompleteWith(ctx context.Context, messages []Message, p Params) (string, error)
}

type jsonSchemaFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string             `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool               `json:"strict"`
}

// CompleteJSON constrains a completion to the JSON schema reflected from
// T and unmarshals the reply into it. Models occasionally wrap the JSON
// in a markdown fence despite the response format; the fence is stripped
// before unmarshaling.
func CompleteJSON[T any](ctx context.Context, c Completer, system, user string, p Params) (*T, error) {
	var out T

	reflector := jsonschema.Reflector{DoNotReference: true}
	p.ResponseFormat = jsonSchemaFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaSpec{
			Name:   schemaName(out),
			Schema: reflector.Reflect(&out),
			Strict: true,
		},
	}

	messages := []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
	raw, err := c.CompleteWith(ctx, messages, p)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return &out, nil
}

func schemaName(v any) string {
	name := strings.ToLower(reflect.TypeOf(v).Name())
	if name == "" {
		return "response"
	}
	return name
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	parts := strings.Split(s, "```")
	if len(parts) < 2 {
		return s
	}
	inner := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(inner)
}

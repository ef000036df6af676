package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// NewTool builds a tool whose arguments decode into A. The parameter schema
// is reflected from A's struct tags and every call is validated against it
// before fn runs.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) (Tool, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(new(A))
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	compiled, err := validator.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return Tool{}, fmt.Errorf("compile schema for %s: %w", name, err)
	}

	handler := func(ctx context.Context, payload json.RawMessage) (string, error) {
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := compiled.Validate(decoded); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		var args A
		if err := json.Unmarshal(payload, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		return fn(ctx, args)
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  raw,
		Handler:     handler,
	}, nil
}

// MustNewTool is NewTool for statically known argument types.
func MustNewTool[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) Tool {
	tool, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return tool
}

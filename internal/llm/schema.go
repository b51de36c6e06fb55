package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates LLM structured output against a JSON Schema.
// Shared by the digest LLM path and the campaign snapshot loader.
type SchemaValidator struct {
	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
}

// NewSchemaValidator compiles schemaJSON once at construction.
func NewSchemaValidator(schemaJSON json.RawMessage) (*SchemaValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("llm: unmarshal schema json: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("llm: add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("llm: compile schema: %w", err)
	}
	return &SchemaValidator{schema: schema, schemaJSON: schemaJSON}, nil
}

// ValidationError describes a schema validation failure.
type ValidationError struct {
	Message string
	Raw     string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate extracts the first balanced JSON object or array from text and
// validates it against the compiled schema. Returns the matched JSON text
// on success.
func (v *SchemaValidator) Validate(text string) (string, error) {
	jsonStr := ExtractJSON(text)
	if jsonStr == "" {
		return "", &ValidationError{Message: "no JSON found in response", Raw: text}
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("invalid json: %s", err), Raw: text}
	}
	if err := v.schema.Validate(parsed); err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("schema validation failed: %s", err), Raw: text}
	}
	return jsonStr, nil
}

// ExtractJSON finds a JSON object or array in text, preferring a fenced
// ```json block, then a generic fenced block, then the first balanced
// {...} or [...] found by brace/bracket matching.
func ExtractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			if candidate := extractBalanced(text[i:]); candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}
	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

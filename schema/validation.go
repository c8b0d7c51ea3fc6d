package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError describes one structural violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("validation failed:")
	for _, err := range e {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks raw JSON parameters against the schema at a structural
// level: required keys must be present and present values must have the
// declared primitive type. It deliberately stops there; anything deeper is
// the handler's business.
func (s *Schema) Validate(data json.RawMessage) error {
	var value any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &value); err != nil {
			return &ValidationError{Message: fmt.Sprintf("invalid JSON: %s", err)}
		}
	}

	var errs ValidationErrors
	s.check("", value, &errs)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *Schema) check(path string, value any, errs *ValidationErrors) {
	if value == nil {
		if s.Type == "object" && len(s.Required) > 0 {
			for _, req := range s.Required {
				*errs = append(*errs, &ValidationError{Path: joinPath(path, req), Message: "required field is missing"})
			}
		}
		return
	}

	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected object, got %T", value)})
			return
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				*errs = append(*errs, &ValidationError{Path: joinPath(path, req), Message: "required field is missing"})
			}
		}
		for name, prop := range s.Properties {
			if v, present := obj[name]; present {
				prop.check(joinPath(path, name), v, errs)
			}
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected array, got %T", value)})
			return
		}
		if s.Items != nil {
			for i, item := range arr {
				s.Items.check(fmt.Sprintf("%s[%d]", path, i), item, errs)
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected string, got %T", value)})
		}
	case "integer":
		n, ok := value.(float64)
		if !ok || n != float64(int64(n)) {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected integer, got %v", value)})
		}
	case "number":
		if _, ok := value.(float64); !ok {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected number, got %T", value)})
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected boolean, got %T", value)})
		}
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

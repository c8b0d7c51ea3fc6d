// Package schema provides JSON Schema generation from Go types and the
// structural validation the dispatcher runs before invoking a handler.
package schema

import (
	"reflect"
	"strings"
)

// Schema is the subset of JSON Schema the gateway generates and validates.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Description string             `json:"description,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// Object builds an object schema by hand, for definitions whose authors
// supply a schema instead of deriving one from a handler input type.
func Object(properties map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: properties, Required: required}
}

// String returns a string property schema.
func String(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// Generate derives a schema from a Go value's type. Struct fields tagged
// `jsonschema:"required"` become required properties; `json` tags name them.
func Generate(v any) *Schema {
	return fromType(reflect.TypeOf(v))
}

// FromType derives a schema from a reflect.Type.
func FromType(t reflect.Type) *Schema {
	return fromType(t)
}

func fromType(t reflect.Type) *Schema {
	if t == nil {
		return &Schema{Type: "object"}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return fromStruct(t)
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array", Items: fromType(t.Elem())}
	case reflect.Map:
		return &Schema{Type: "object"}
	default:
		return &Schema{}
	}
}

func fromStruct(t reflect.Type) *Schema {
	s := &Schema{
		Type:       "object",
		Properties: make(map[string]*Schema),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		if jsonTag != "" {
			if head := strings.Split(jsonTag, ",")[0]; head != "" {
				name = head
			}
		}

		fs := fromType(field.Type)
		applyTag(field.Tag.Get("jsonschema"), fs, &s.Required, name)
		s.Properties[name] = fs
	}

	return s
}

func applyTag(tag string, s *Schema, required *[]string, name string) {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "required":
			*required = append(*required, name)
		case strings.HasPrefix(part, "description="):
			s.Description = strings.TrimPrefix(part, "description=")
		}
	}
}

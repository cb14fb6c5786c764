package contract

import (
	"fmt"
	"math"
	"strings"
)

// Type is the JSON type a schema node accepts.
type Type string

// Supported schema types.
const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
)

// Schema is a declarative output descriptor. It is sent to the generation
// service as the response shape and used to validate what comes back.
type Schema struct {
	Type        Type
	Description string

	// Properties of an object, in prompt order
	Properties []Property

	// Item schema of an array
	Items *Schema

	// Allowed values of a string
	Enum []string

	// Exact array length; nil means any length
	Length *int

	// Array length bounds; nil means unbounded
	MinItems *int
	MaxItems *int
}

// Property is a named member of an object schema.
type Property struct {
	Name     string
	Schema   *Schema
	Optional bool
}

// Object builds an object schema from its properties.
func Object(props ...Property) *Schema {
	return &Schema{Type: TypeObject, Properties: props}
}

// Field declares a required property.
func Field(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

// OptionalField declares a property that may be absent.
func OptionalField(name string, s *Schema) Property {
	return Property{Name: name, Schema: s, Optional: true}
}

// String builds a string schema.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Enum builds a string schema restricted to values.
func Enum(description string, values ...string) *Schema {
	return &Schema{Type: TypeString, Description: description, Enum: values}
}

// Integer builds an integer schema.
func Integer(description string) *Schema {
	return &Schema{Type: TypeInteger, Description: description}
}

// Number builds a number schema.
func Number(description string) *Schema {
	return &Schema{Type: TypeNumber, Description: description}
}

// Boolean builds a boolean schema.
func Boolean(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// ArrayOf builds an array schema.
func ArrayOf(items *Schema) *Schema {
	return &Schema{Type: TypeArray, Items: items}
}

// Strings builds an array-of-strings schema.
func Strings(description string) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: String("")}
}

// Describe sets the description and returns s.
func (s *Schema) Describe(description string) *Schema {
	s.Description = description
	return s
}

// WithLength requires an array to hold exactly n items.
func (s *Schema) WithLength(n int) *Schema {
	s.Length = &n
	return s
}

// WithMinItems requires an array to hold at least n items.
func (s *Schema) WithMinItems(n int) *Schema {
	s.MinItems = &n
	return s
}

// WithMaxItems requires an array to hold at most n items.
func (s *Schema) WithMaxItems(n int) *Schema {
	s.MaxItems = &n
	return s
}

// Required returns the names of the required properties.
func (s *Schema) Required() []string {
	var names []string
	for _, p := range s.Properties {
		if !p.Optional {
			names = append(names, p.Name)
		}
	}
	return names
}

// Property looks up a property schema by name.
func (s *Schema) Property(name string) (*Schema, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// Validate checks a decoded JSON value against the schema and returns every
// violation found.
func (s *Schema) Validate(value interface{}) []ValidationError {
	var errs []ValidationError
	s.validate(value, "", &errs)
	return errs
}

func (s *Schema) validate(value interface{}, path string, errs *[]ValidationError) {
	switch s.Type {
	case TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			*errs = append(*errs, typeError(path, s.Type, value))
			return
		}
		for _, p := range s.Properties {
			child := joinPath(path, p.Name)
			v, present := obj[p.Name]
			if !present || v == nil {
				if !p.Optional {
					*errs = append(*errs, ValidationError{
						Field:   child,
						Rule:    "required",
						Message: fmt.Sprintf("%s is required", p.Name),
					})
				}
				continue
			}
			p.Schema.validate(v, child, errs)
		}

	case TypeArray:
		arr, ok := value.([]interface{})
		if !ok {
			*errs = append(*errs, typeError(path, s.Type, value))
			return
		}
		if s.Length != nil && len(arr) != *s.Length {
			*errs = append(*errs, ValidationError{
				Field:   path,
				Rule:    "length",
				Message: fmt.Sprintf("expected exactly %d items, got %d", *s.Length, len(arr)),
			})
		}
		if s.MinItems != nil && len(arr) < *s.MinItems {
			*errs = append(*errs, ValidationError{
				Field:   path,
				Rule:    "min_items",
				Message: fmt.Sprintf("expected at least %d items, got %d", *s.MinItems, len(arr)),
			})
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			*errs = append(*errs, ValidationError{
				Field:   path,
				Rule:    "max_items",
				Message: fmt.Sprintf("expected at most %d items, got %d", *s.MaxItems, len(arr)),
			})
		}
		if s.Items != nil {
			for i, item := range arr {
				s.Items.validate(item, fmt.Sprintf("%s[%d]", path, i), errs)
			}
		}

	case TypeString:
		str, ok := value.(string)
		if !ok {
			*errs = append(*errs, typeError(path, s.Type, value))
			return
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			*errs = append(*errs, ValidationError{
				Field:   path,
				Rule:    "enum",
				Message: fmt.Sprintf("value %q is not one of: %s", str, strings.Join(s.Enum, ", ")),
			})
		}

	case TypeInteger:
		f, ok := value.(float64)
		if !ok || math.Trunc(f) != f {
			*errs = append(*errs, typeError(path, s.Type, value))
		}

	case TypeNumber:
		if _, ok := value.(float64); !ok {
			*errs = append(*errs, typeError(path, s.Type, value))
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, typeError(path, s.Type, value))
		}
	}
}

func typeError(path string, want Type, got interface{}) ValidationError {
	return ValidationError{
		Field:   path,
		Rule:    "type",
		Message: fmt.Sprintf("expected %s, got %s", want, jsonTypeName(got)),
	}
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

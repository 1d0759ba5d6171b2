package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"weaver/internal/pkg/errors"
)

// Well-known parameter names shared by every composition.
const (
	ParamDurationInFrames = "durationInFrames"
	ParamWidth            = "width"
	ParamHeight           = "height"
	ParamFPS              = "fps"
	ParamBaseURL          = "baseUrl"
)

// Params is the composition input bag. Values are whatever JSON decoding
// produced: json.Number or float64 for numbers, []any, map[string]any.
type Params map[string]any

// Clone copies the top level of p. A nil bag clones to an empty one.
func (p Params) Clone() Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PositiveInt returns the value of key when it is a whole number above zero.
func (p Params) PositiveInt(key string) (int, bool) {
	f, ok := number(p[key])
	if !ok || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// FieldType names the JSON kinds a schema can require.
type FieldType string

const (
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeAny     FieldType = "any"
)

type FieldSpec struct {
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
}

// Schema declares the typed fields of one composition's parameter bag.
type Schema struct {
	Fields map[string]FieldSpec `yaml:"fields" json:"fields"`
	// Strict rejects fields that are not declared.
	Strict bool `yaml:"strict" json:"strict"`
}

// BaseSchema types the fields every composition shares. None are required,
// so an empty bag falls back to the composition's own metadata.
func BaseSchema() Schema {
	return Schema{Fields: map[string]FieldSpec{
		ParamDurationInFrames: {Type: TypeInteger},
		ParamWidth:            {Type: TypeInteger},
		ParamHeight:           {Type: TypeInteger},
		ParamFPS:              {Type: TypeNumber},
		ParamBaseURL:          {Type: TypeString},
	}}
}

// Merge layers s over base; fields in s win.
func (s Schema) Merge(base Schema) Schema {
	out := Schema{Fields: make(map[string]FieldSpec, len(base.Fields)+len(s.Fields)), Strict: s.Strict}
	for k, v := range base.Fields {
		out.Fields[k] = v
	}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}

// Validate checks p against s and returns the first violation, in field
// name order, as a VALIDATION_ERROR naming the offending field.
func (s Schema) Validate(p Params) error {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := s.Fields[name]
		v, present := p[name]
		if !present || v == nil {
			if spec.Required {
				return errors.ValidationField("parameters."+name, "is required")
			}
			continue
		}
		if !spec.Type.accepts(v) {
			return errors.ValidationField("parameters."+name, fmt.Sprintf("must be of type %s", spec.Type))
		}
	}

	if s.Strict {
		extra := make([]string, 0)
		for name := range p {
			if _, ok := s.Fields[name]; !ok {
				extra = append(extra, name)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return errors.ValidationField("parameters."+extra[0], "is not a known parameter")
		}
	}
	return nil
}

func (t FieldType) accepts(v any) bool {
	switch t {
	case TypeNumber:
		_, ok := number(v)
		return ok
	case TypeInteger:
		f, ok := number(v)
		return ok && f == math.Trunc(f)
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeAny, "":
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known type name.
func (t FieldType) Valid() bool {
	switch t {
	case TypeNumber, TypeInteger, TypeString, TypeBoolean, TypeArray, TypeObject, TypeAny, "":
		return true
	}
	return false
}

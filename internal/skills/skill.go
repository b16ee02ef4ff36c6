// Package skills holds the built-in skill set and the execution
// contract shared by the router, the agent runtime and the intent
// parser's tool surface.
package skills

import (
	"context"
	"fmt"
	"sort"

	"github.com/chainclaw/chainclaw/pkg/models"
)

// Context carries everything a skill may touch during one execution.
type Context struct {
	UserID        string
	WalletAddress string // empty when the user has no wallet
	ChainIDs      []int64
	Prefs         models.Preferences

	// SendReply pushes an interim message to the user's channel.
	SendReply func(text string)
	// RequestConfirmation asks the user to approve an action. Nil when
	// the channel cannot confirm.
	RequestConfirmation func(ctx context.Context, prompt string) (bool, error)
}

// Result is the uniform skill outcome.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Handler executes a skill with validated parameters.
type Handler func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error)

// Skill is one named capability.
type Skill struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
}

// Execute validates params against the schema and runs the handler.
func (s *Skill) Execute(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
	cleaned, err := s.Schema.Validate(params)
	if err != nil {
		return nil, err
	}
	return s.Handler(ctx, cleaned, sc)
}

// ParamType is the accepted value type of one parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// ParamSpec describes one schema field.
type ParamSpec struct {
	Type        ParamType
	Description string
	Required    bool
	Enum        []string // string params only
	Min         *float64 // numeric params only
	Max         *float64
}

// Schema maps parameter names to their specs.
type Schema map[string]ParamSpec

// Validate checks params against the schema and returns a cleaned copy:
// unknown keys rejected, numbers normalised to float64, integers to
// int64.
func (s Schema) Validate(params map[string]interface{}) (map[string]interface{}, error) {
	cleaned := make(map[string]interface{}, len(params))

	for name, spec := range s {
		raw, ok := params[name]
		if !ok || raw == nil {
			if spec.Required {
				return nil, fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		value, err := spec.coerce(name, raw)
		if err != nil {
			return nil, err
		}
		cleaned[name] = value
	}

	for name := range params {
		if _, ok := s[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	return cleaned, nil
}

func (p ParamSpec) coerce(name string, raw interface{}) (interface{}, error) {
	switch p.Type {
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q must be a string, got %T", name, raw)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if v == allowed {
					return v, nil
				}
			}
			return nil, fmt.Errorf("parameter %q must be one of %v, got %q", name, p.Enum, v)
		}
		return v, nil

	case TypeNumber, TypeInteger:
		var f float64
		switch n := raw.(type) {
		case float64:
			f = n
		case float32:
			f = float64(n)
		case int:
			f = float64(n)
		case int64:
			f = float64(n)
		default:
			return nil, fmt.Errorf("parameter %q must be a number, got %T", name, raw)
		}
		if p.Min != nil && f < *p.Min {
			return nil, fmt.Errorf("parameter %q must be >= %v, got %v", name, *p.Min, f)
		}
		if p.Max != nil && f > *p.Max {
			return nil, fmt.Errorf("parameter %q must be <= %v, got %v", name, *p.Max, f)
		}
		if p.Type == TypeInteger {
			i := int64(f)
			if float64(i) != f {
				return nil, fmt.Errorf("parameter %q must be an integer, got %v", name, f)
			}
			return i, nil
		}
		return f, nil

	case TypeBoolean:
		v, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("parameter %q must be a boolean, got %T", name, raw)
		}
		return v, nil

	case TypeArray:
		v, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("parameter %q must be an array, got %T", name, raw)
		}
		return v, nil

	default:
		return nil, fmt.Errorf("parameter %q has unsupported type %q", name, p.Type)
	}
}

// ToolParameters renders the schema as a JSON-schema object for the
// intent parser's tool definitions.
func (s Schema) ToolParameters() map[string]interface{} {
	properties := make(map[string]interface{}, len(s))
	var required []string

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := s[name]
		prop := map[string]interface{}{
			"type":        string(spec.Type),
			"description": spec.Description,
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Min != nil {
			prop["minimum"] = *spec.Min
		}
		if spec.Max != nil {
			prop["maximum"] = *spec.Max
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}

	out := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

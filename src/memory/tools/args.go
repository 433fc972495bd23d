package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// args wraps the loosely typed arguments decoded from a model call.
type args map[string]any

func (a args) has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

func (a args) requiredString(name string) (string, error) {
	v, ok := a[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", model.NewValidationError(name, "required non-empty string")
	}
	return strings.TrimSpace(v), nil
}

func (a args) optionalString(name string) (string, error) {
	if !a.has(name) {
		return "", nil
	}
	v, ok := a[name].(string)
	if !ok {
		return "", model.NewValidationError(name, "must be a string")
	}
	return strings.TrimSpace(v), nil
}

func (a args) number(name string) (float64, bool, error) {
	if !a.has(name) {
		return 0, false, nil
	}
	switch v := a[name].(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	}
	return 0, false, model.NewValidationError(name, "must be a number")
}

// unit reads an optional number constrained to [0,1].
func (a args) unit(name string) (*float64, error) {
	v, ok, err := a.number(name)
	if err != nil || !ok {
		return nil, err
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return nil, model.NewValidationError(name, fmt.Sprintf("%v outside [0,1]", v))
	}
	return &v, nil
}

// intIn reads an optional integer within [lo,hi], falling back to def.
func (a args) intIn(name string, def, lo, hi int) (int, error) {
	v, ok, err := a.number(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	if v != math.Trunc(v) {
		return 0, model.NewValidationError(name, "must be an integer")
	}
	if v < float64(lo) || v > float64(hi) {
		return 0, model.NewValidationError(name, fmt.Sprintf("%v outside [%d,%d]", v, lo, hi))
	}
	return int(v), nil
}

func (a args) limit() (int, error) {
	return a.intIn("limit", defaultLimit, 1, maxLimit)
}

func (a args) boolean(name string) (bool, error) {
	if !a.has(name) {
		return false, nil
	}
	v, ok := a[name].(bool)
	if !ok {
		return false, model.NewValidationError(name, "must be a boolean")
	}
	return v, nil
}

func (a args) strategy() (decision.Strategy, error) {
	raw, err := a.optionalString("strategy")
	if err != nil {
		return "", err
	}
	return decision.ParseStrategy(raw)
}

func (a args) stringList(name string) ([]string, error) {
	if !a.has(name) {
		return nil, nil
	}
	switch v := a[name].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, model.NewValidationError(name, "must be a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, model.NewValidationError(name, "must be a list of strings")
}

func (a args) object(name string) (map[string]any, error) {
	if !a.has(name) {
		return nil, nil
	}
	v, ok := a[name].(map[string]any)
	if !ok {
		return nil, model.NewValidationError(name, "must be an object")
	}
	return model.CloneMetadata(v), nil
}

// internal/ami/choice.go
package ami

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnyValue is the configuration spelling of "no constraint" for a Choice.
const AnyValue = "any"

// legacyAny is accepted on input for definitions exported from older tooling.
const legacyAny = "- any -"

type choiceKind uint8

const (
	choiceUnset choiceKind = iota
	choiceAny
	choiceValue
)

// Choice is a filter field that is either unset, explicitly "any", or a
// concrete value. Only a concrete value constrains a query.
type Choice struct {
	kind  choiceKind
	value string
}

// Any returns a Choice that matches every value.
func Any() Choice {
	return Choice{kind: choiceAny}
}

// Exactly returns a Choice constrained to v. An empty v yields an unset Choice.
func Exactly(v string) Choice {
	if v == "" {
		return Choice{}
	}
	return Choice{kind: choiceValue, value: v}
}

// ParseChoice maps the configuration spelling onto a Choice.
func ParseChoice(s string) Choice {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Choice{}
	case strings.EqualFold(s, AnyValue), s == legacyAny:
		return Any()
	default:
		return Exactly(s)
	}
}

// Value returns the concrete value and true when the choice constrains a query.
func (c Choice) Value() (string, bool) {
	if c.kind != choiceValue {
		return "", false
	}
	return c.value, true
}

func (c Choice) IsAny() bool   { return c.kind == choiceAny }
func (c Choice) IsUnset() bool { return c.kind == choiceUnset }

// String renders the configuration spelling: "" for unset, "any", or the value.
func (c Choice) String() string {
	switch c.kind {
	case choiceAny:
		return AnyValue
	case choiceValue:
		return c.value
	default:
		return ""
	}
}

func (c Choice) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Choice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	*c = ParseChoice(node.Value)
	return nil
}

func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Choice) UnmarshalText(b []byte) error {
	*c = ParseChoice(string(b))
	return nil
}

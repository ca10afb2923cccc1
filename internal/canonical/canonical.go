// Package canonical turns request fields into the exact byte string that the
// processor recomputes when it checks a signature.
//
// The output is a compact JSON object whose members follow the endpoint's
// documented order and whose escaping matches ECMAScript JSON.stringify,
// because that is what the counterparty serializes on its side.
package canonical

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

// Order selects how members are laid out in the canonical string.
type Order int

const (
	// DeclaredOrder emits members in the order the contract lists them.
	DeclaredOrder Order = iota
	// Alphabetical emits members sorted by name (byte order).
	Alphabetical
)

// FieldRule declares one member of an endpoint contract.
type FieldRule struct {
	Name     string
	Optional bool
}

// Contract is the documented field set of an endpoint.
type Contract struct {
	Name   string
	Fields []FieldRule
	Order  Order
}

// Values maps field names to string, integer, bool or json.Number values.
type Values map[string]any

// Fields builds a contract whose members are all required.
func Fields(name string, fields ...string) Contract {
	c := Contract{Name: name}
	for _, f := range fields {
		c.Fields = append(c.Fields, FieldRule{Name: f})
	}
	return c
}

// Optional marks the named members as optional and returns the contract.
func (c Contract) Optional(names ...string) Contract {
	rules := make([]FieldRule, len(c.Fields))
	copy(rules, c.Fields)
	for i := range rules {
		if slices.Contains(names, rules[i].Name) {
			rules[i].Optional = true
		}
	}
	c.Fields = rules
	return c
}

// Names returns member names in emission order.
func (c Contract) Names() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	if c.Order == Alphabetical {
		slices.Sort(names)
	}
	return names
}

// Canonicalize serializes v according to the contract. It fails with
// ErrContractViolation when a required member is missing, an unknown member
// is present, or a value cannot be rendered without reformatting.
func (c Contract) Canonicalize(v Values) (string, error) {
	rules := make(map[string]FieldRule, len(c.Fields))
	for _, f := range c.Fields {
		if _, dup := rules[f.Name]; dup {
			return "", waaserr.Contract(f.Name, "declared twice in contract %s", c.Name)
		}
		rules[f.Name] = f
	}

	keys := maps.Keys(v)
	slices.Sort(keys)
	for _, k := range keys {
		if _, ok := rules[k]; !ok {
			return "", waaserr.Contract(k, "not part of contract %s", c.Name)
		}
	}

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, name := range c.Names() {
		val, ok := v[name]
		if !ok {
			if rules[name].Optional {
				continue
			}
			return "", waaserr.Contract(name, "required by contract %s", c.Name)
		}
		text, err := render(val)
		if err != nil {
			return "", waaserr.Contract(name, "%v", err)
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		if err := quote(&b, name); err != nil {
			return "", waaserr.Contract(name, "%v", err)
		}
		b.WriteByte(':')
		b.WriteString(text)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// AppendField adds a string member at the end of an already canonical object.
func AppendField(canonical, name, value string) (string, error) {
	if len(canonical) < 2 || canonical[0] != '{' || canonical[len(canonical)-1] != '}' {
		return "", waaserr.Contract(name, "cannot append to a non-object payload")
	}
	var b strings.Builder
	b.WriteString(canonical[:len(canonical)-1])
	if len(canonical) > 2 {
		b.WriteByte(',')
	}
	if err := quote(&b, name); err != nil {
		return "", waaserr.Contract(name, "%v", err)
	}
	b.WriteByte(':')
	if err := quote(&b, value); err != nil {
		return "", waaserr.Contract(name, "%v", err)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func render(v any) (string, error) {
	switch t := v.(type) {
	case string:
		var b strings.Builder
		if err := quote(&b, t); err != nil {
			return "", err
		}
		return b.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case json.Number:
		s := string(t)
		if s == "" || !json.Valid([]byte(s)) || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
			return "", fmt.Errorf("invalid number %q", s)
		}
		return s, nil
	case float32, float64:
		return "", fmt.Errorf("floating point value %v: send amounts as decimal strings", t)
	case nil:
		return "", fmt.Errorf("null value")
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

const hexDigits = "0123456789abcdef"

// quote writes s the way JSON.stringify does: only quote, backslash and
// control characters are escaped.
func quote(b *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8")
	}
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return nil
}

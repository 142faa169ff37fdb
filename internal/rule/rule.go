// Package rule implements the predicates that gate handlers.
//
// A Rule is a tagged union: a key/value comparison, an arbitrary predicate, a
// command matcher, or an AND/OR combination of other rules. Evaluation is
// fail-closed: a leaf that panics or cannot compare its operands counts as
// false, and the failure is reported alongside the result.
package rule

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
)

// ErrInvalidRule wraps every construction error.
var ErrInvalidRule = errors.New("invalid rule")

// Kind tags the variant held by a Rule.
type Kind int

const (
	KindKeyValue Kind = iota + 1
	KindFunc
	KindCommand
	KindAll
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindKeyValue:
		return "key_value"
	case KindFunc:
		return "func"
	case KindCommand:
		return "command"
	case KindAll:
		return "all"
	case KindAny:
		return "any"
	default:
		return "invalid"
	}
}

// Op is a key/value comparison operator.
type Op string

const (
	OpEq          Op = "eq"
	OpNe          Op = "ne"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
	OpFunc        Op = "func"
)

// Compare is the callback of an OpFunc rule. It receives the event's value
// for the key (nil when absent) and the rule's operand.
type Compare func(actual, want any) bool

// Predicate is the callback of a Func rule.
type Predicate func(ev event.Event) bool

// Rule is a composable predicate over events. Build rules with the
// constructors; the zero Rule never matches.
type Rule struct {
	kind Kind

	key   string
	op    Op
	value any
	cmp   Compare

	pred Predicate
	name string

	cmd *command

	rules []Rule
}

// Kind returns the variant tag.
func (r Rule) Kind() Kind { return r.kind }

// KeyValue compares the event field key against value with op. OpFunc needs
// KeyValueFunc instead.
func KeyValue(key string, op Op, value any) (Rule, error) {
	switch op {
	case OpEq, OpNe, OpContains, OpNotContains:
	case OpFunc:
		return Rule{}, fmt.Errorf("%w: operator %q requires a compare function", ErrInvalidRule, op)
	default:
		return Rule{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, op)
	}
	if key == "" {
		return Rule{}, fmt.Errorf("%w: key is empty", ErrInvalidRule)
	}
	return Rule{kind: KindKeyValue, key: key, op: op, value: value}, nil
}

// KeyValueFunc compares the event field key against value with cmp.
func KeyValueFunc(key string, value any, cmp Compare) (Rule, error) {
	if cmp == nil {
		return Rule{}, fmt.Errorf("%w: operator %q requires a compare function", ErrInvalidRule, OpFunc)
	}
	if key == "" {
		return Rule{}, fmt.Errorf("%w: key is empty", ErrInvalidRule)
	}
	return Rule{kind: KindKeyValue, key: key, op: OpFunc, value: value, cmp: cmp}, nil
}

// Func wraps an arbitrary predicate. name appears in logs.
func Func(name string, pred Predicate) (Rule, error) {
	if pred == nil {
		return Rule{}, fmt.Errorf("%w: func rule %q has no predicate", ErrInvalidRule, name)
	}
	return Rule{kind: KindFunc, pred: pred, name: name}, nil
}

// AllOf is true iff every rule is true. An empty AllOf is true.
func AllOf(rules ...Rule) Rule {
	return Rule{kind: KindAll, rules: append([]Rule(nil), rules...)}
}

// AnyOf is true iff at least one rule is true. An empty AnyOf is false.
func AnyOf(rules ...Rule) Rule {
	return Rule{kind: KindAny, rules: append([]Rule(nil), rules...)}
}

// Must panics on a construction error. For package-level rule values.
func Must(r Rule, err error) Rule {
	if err != nil {
		panic(err)
	}
	return r
}

// ToMe matches private messages and group messages that mention the bot.
func ToMe() Rule {
	return Rule{kind: KindFunc, name: "to_me", pred: func(ev event.Event) bool {
		msg, ok := ev.(*event.Message)
		if !ok {
			log.WithComponent("rule").Warn("event is not a message, cannot match to_me", "event_type", ev.Type())
			return false
		}
		if msg.IsPrivate() {
			return true
		}
		return msg.IsGroup() && msg.MentionsSelf()
	}}
}

// Match evaluates r, logging any evaluation failure. It never panics.
func (r Rule) Match(ev event.Event) bool {
	ok, err := r.Eval(ev)
	if err != nil {
		log.WithComponent("rule").Error("rule evaluation failed", "rule", r.String(), "event_type", ev.Type(), "error", err)
	}
	return ok
}

// Eval returns the fail-closed result together with every failure met on the
// way. A failing leaf counts as false; combinators keep evaluating their
// remaining children as usual.
func (r Rule) Eval(ev event.Event) (bool, error) {
	switch r.kind {
	case KindAll:
		var errs []error
		for _, child := range r.rules {
			ok, err := child.Eval(ev)
			if err != nil {
				errs = append(errs, err)
			}
			if !ok {
				return false, errors.Join(errs...)
			}
		}
		return true, errors.Join(errs...)

	case KindAny:
		var errs []error
		for _, child := range r.rules {
			ok, err := child.Eval(ev)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				return true, errors.Join(errs...)
			}
		}
		return false, errors.Join(errs...)

	case KindKeyValue, KindFunc, KindCommand:
		return r.evalLeaf(ev)

	default:
		return false, fmt.Errorf("%w: zero rule", ErrInvalidRule)
	}
}

func (r Rule) evalLeaf(ev event.Event) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = fmt.Errorf("rule %s: %w", r.String(), diagnostics.PanicError(rec))
		}
	}()

	switch r.kind {
	case KindKeyValue:
		return r.evalKeyValue(ev)
	case KindFunc:
		return r.pred(ev), nil
	default:
		return r.cmd.match(ev), nil
	}
}

func (r Rule) evalKeyValue(ev event.Event) (bool, error) {
	actual, _ := ev.Get(r.key)
	switch r.op {
	case OpEq:
		return equal(actual, r.value), nil
	case OpNe:
		return !equal(actual, r.value), nil
	case OpContains, OpNotContains:
		found, err := contains(actual, r.value)
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", r.String(), err)
		}
		if r.op == OpNotContains {
			return !found, nil
		}
		return found, nil
	default:
		return r.cmp(actual, r.value), nil
	}
}

// String describes the rule for logs.
func (r Rule) String() string {
	switch r.kind {
	case KindKeyValue:
		return fmt.Sprintf("%s %s %v", r.key, r.op, r.value)
	case KindFunc:
		if r.name == "" {
			return "func"
		}
		return "func(" + r.name + ")"
	case KindCommand:
		return "command(" + r.cmd.spec.Command + ")"
	case KindAll, KindAny:
		parts := make([]string, len(r.rules))
		for i, child := range r.rules {
			parts[i] = child.String()
		}
		return r.kind.String() + "(" + strings.Join(parts, ", ") + ")"
	default:
		return "invalid"
	}
}

// equal compares payload values, treating every numeric representation of
// the same number as equal.
func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(n).Convert(reflect.TypeOf(float64(0))).Float(), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("cannot look for %T in a string", item)
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, v := range c {
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("cannot look for %T in a string list", item)
		}
		for _, v := range c {
			if v == s {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("cannot look for %T in a map", item)
		}
		_, found := c[s]
		return found, nil
	case nil:
		return false, fmt.Errorf("field is missing")
	default:
		return false, fmt.Errorf("field of type %T is not a container", container)
	}
}

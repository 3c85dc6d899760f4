// Package rules loads user-defined email rules from a JSON document and
// converts them into a closed, typed model the engine can evaluate.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Field identifies the message attribute a condition inspects.
type Field int

const (
	FieldUnknown Field = iota
	FieldFrom
	FieldTo
	FieldSubject
	FieldMessageBody
	FieldReceivedAt
)

// Operator is the comparison a condition applies.
type Operator int

const (
	OpUnknown Operator = iota
	OpContains
	OpNotContains
	OpEquals
	OpNotEquals
	OpLessThan    // timestamp only: older than the given age
	OpGreaterThan // timestamp only: newer than the given age
)

// Predicate is the rule-level combination mode over conditions.
type Predicate int

const (
	PredicateAll Predicate = iota
	PredicateAny
)

// ActionKind identifies the mutation an action applies to a matched message.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionMarkRead
	ActionMarkUnread
	ActionRelabel
)

// Condition compares one message field against a literal value.
type Condition struct {
	Field    Field
	Operator Operator
	Value    string
}

// Action is one mutation in a rule's action list. Value is the target
// label for relabel actions and empty otherwise.
type Action struct {
	Kind  ActionKind
	Value string
}

// Rule is one loaded, validated rule. Immutable during a processing run.
type Rule struct {
	Name        string
	Description string
	Predicate   Predicate
	Conditions  []Condition
	Actions     []Action
}

var (
	ErrUnknownField     = errors.New("unknown condition field")
	ErrUnknownOperator  = errors.New("unknown condition operator")
	ErrUnknownPredicate = errors.New("unknown rule predicate")
	ErrUnknownAction    = errors.New("unknown action type")
)

// Wire format of the rules file, matching config/rules.json.
type rulesDocument struct {
	Rules []ruleJSON `json:"rules"`
}

type ruleJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Predicate   string          `json:"predicate"`
	Conditions  []conditionJSON `json:"conditions"`
	Actions     []actionJSON    `json:"actions"`
}

type conditionJSON struct {
	Field     string `json:"field"`
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

type actionJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Load reads a rules document from path. A missing file or a document
// that does not parse yields an empty rule list rather than an error:
// the engine still runs, it just matches nothing. Individual rules that
// reference unknown fields, operators or action types are rejected here
// (returned in rejected) so they cannot silently no-op per evaluation.
func Load(path string) (loaded []Rule, rejected []error, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read rules file: %w", readErr)
	}
	return Parse(data)
}

// Parse decodes and validates a rules document. Malformed JSON yields an
// empty rule list, not an error.
func Parse(data []byte) (loaded []Rule, rejected []error, err error) {
	var doc rulesDocument
	if unmarshalErr := json.Unmarshal(data, &doc); unmarshalErr != nil {
		return nil, []error{fmt.Errorf("parse rules document: %w", unmarshalErr)}, nil
	}

	for i, rj := range doc.Rules {
		rule, convErr := convertRule(rj)
		if convErr != nil {
			name := rj.Name
			if name == "" {
				name = fmt.Sprintf("rule #%d", i+1)
			}
			rejected = append(rejected, fmt.Errorf("%s: %w", name, convErr))
			continue
		}
		loaded = append(loaded, rule)
	}
	return loaded, rejected, nil
}

func convertRule(rj ruleJSON) (Rule, error) {
	predicate, err := parsePredicate(rj.Predicate)
	if err != nil {
		return Rule{}, err
	}

	rule := Rule{
		Name:        rj.Name,
		Description: rj.Description,
		Predicate:   predicate,
	}
	if rule.Name == "" {
		rule.Name = "Unnamed Rule"
	}

	for _, cj := range rj.Conditions {
		cond, err := convertCondition(cj)
		if err != nil {
			return Rule{}, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	for _, aj := range rj.Actions {
		action, err := convertAction(aj)
		if err != nil {
			return Rule{}, err
		}
		rule.Actions = append(rule.Actions, action)
	}

	return rule, nil
}

func convertCondition(cj conditionJSON) (Condition, error) {
	field, err := ParseField(cj.Field)
	if err != nil {
		return Condition{}, err
	}
	op, err := ParseOperator(cj.Predicate)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Field: field, Operator: op, Value: cj.Value}, nil
}

func convertAction(aj actionJSON) (Action, error) {
	kind, err := ParseActionKind(aj.Type)
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: kind, Value: aj.Value}, nil
}

// ParseField maps a wire field name to its typed value.
func ParseField(s string) (Field, error) {
	switch s {
	case "From":
		return FieldFrom, nil
	case "To":
		return FieldTo, nil
	case "Subject":
		return FieldSubject, nil
	case "Message":
		return FieldMessageBody, nil
	case "Received Date/Time":
		return FieldReceivedAt, nil
	default:
		return FieldUnknown, fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
}

// ParseOperator maps a wire operator name to its typed value.
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "contains":
		return OpContains, nil
	case "does not contain":
		return OpNotContains, nil
	case "equals":
		return OpEquals, nil
	case "does not equal":
		return OpNotEquals, nil
	case "less than":
		return OpLessThan, nil
	case "greater than":
		return OpGreaterThan, nil
	default:
		return OpUnknown, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// ParseActionKind maps a wire action type to its typed value.
func ParseActionKind(s string) (ActionKind, error) {
	switch s {
	case "mark as read":
		return ActionMarkRead, nil
	case "mark as unread":
		return ActionMarkUnread, nil
	case "move message":
		return ActionRelabel, nil
	default:
		return ActionUnknown, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

func parsePredicate(s string) (Predicate, error) {
	switch s {
	case "All", "":
		return PredicateAll, nil
	case "Any":
		return PredicateAny, nil
	default:
		return PredicateAll, fmt.Errorf("%w: %q", ErrUnknownPredicate, s)
	}
}

func (f Field) String() string {
	switch f {
	case FieldFrom:
		return "From"
	case FieldTo:
		return "To"
	case FieldSubject:
		return "Subject"
	case FieldMessageBody:
		return "Message"
	case FieldReceivedAt:
		return "Received Date/Time"
	default:
		return "unknown"
	}
}

func (p Predicate) String() string {
	if p == PredicateAny {
		return "Any"
	}
	return "All"
}

func (k ActionKind) String() string {
	switch k {
	case ActionMarkRead:
		return "mark as read"
	case ActionMarkUnread:
		return "mark as unread"
	case ActionRelabel:
		return "move message"
	default:
		return "unknown"
	}
}

// Summary renders a rule for log output.
func (r Rule) Summary() string {
	return fmt.Sprintf("%s (%s, %d conditions, %d actions)",
		r.Name, r.Predicate, len(r.Conditions), len(r.Actions))
}

// Names returns the loaded rule names for log output.
func Names(loaded []Rule) string {
	names := make([]string, 0, len(loaded))
	for _, r := range loaded {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}

// Package engine evaluates loaded rules against stored messages and
// applies the matching rules' actions, recording an audit trail of every
// firing. The engine holds its collaborators explicitly: a message
// store, an immutable rule list, a logger and a clock.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kskmr6390/email-rule-ops/model"
	"github.com/kskmr6390/email-rule-ops/rules"
)

// Store is the persistence collaborator the engine mutates. Each call
// commits independently; there is no transaction spanning a rule or a
// run.
type Store interface {
	ListMessages(ctx context.Context) ([]model.Message, error)
	SetReadState(ctx context.Context, id string, read bool, updatedAt time.Time) error
	SetLabels(ctx context.Context, id string, labels string, updatedAt time.Time) error
	RecordExecution(ctx context.Context, exec model.RuleExecution) error
}

// Stats accumulates the counters for one processing run.
type Stats struct {
	EmailsProcessed int
	RulesMatched    int
	ActionsExecuted int
}

// LogAttrs renders the stats as slog key/value pairs.
func (s Stats) LogAttrs() []any {
	return []any{
		"emailsProcessed", s.EmailsProcessed,
		"rulesMatched", s.RulesMatched,
		"actionsExecuted", s.ActionsExecuted,
	}
}

// Options configures an Engine.
type Options struct {
	// DryRun applies actions to the in-memory messages only, skipping
	// store commits. Audit records are still written.
	DryRun bool
	// Now overrides the clock used by date conditions and audit
	// timestamps. Defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	store   Store
	rules   []rules.Rule
	logger  *slog.Logger
	dryRun  bool
	nowFunc func() time.Time
}

// New creates an engine over the given store and rule list.
func New(store Store, ruleList []rules.Rule, logger *slog.Logger, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	nowFunc := opts.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Engine{
		store:   store,
		rules:   ruleList,
		logger:  logger,
		dryRun:  opts.DryRun,
		nowFunc: nowFunc,
	}, nil
}

func (e *Engine) now() time.Time {
	return e.nowFunc().UTC()
}

// Run processes every stored message against every rule, in rule-list
// order. A message may match several rules in one run; actions of an
// earlier rule are visible to later rules against the same message. One
// failing (message, rule) pair is recorded as a failed execution and
// never aborts the run.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	messages, err := e.store.ListMessages(ctx)
	if err != nil {
		return stats, fmt.Errorf("list messages: %w", err)
	}
	stats.EmailsProcessed = len(messages)

	for i := range messages {
		msg := &messages[i]
		for _, rule := range e.rules {
			matched, actionCount, err := e.processPair(ctx, rule, msg)
			if err != nil {
				e.logger.Warn("rule processing failed",
					"rule", rule.Name, "emailID", msg.ID, "err", err)
				e.recordFailure(ctx, rule.Name, msg.ID, err)
				continue
			}
			if !matched {
				continue
			}
			stats.RulesMatched++
			stats.ActionsExecuted += actionCount
		}
	}

	return stats, nil
}

// Matches reports whether a message satisfies a rule. A rule with no
// conditions never matches, under either predicate.
func (e *Engine) Matches(rule rules.Rule, msg *model.Message) bool {
	if len(rule.Conditions) == 0 {
		return false
	}

	if rule.Predicate == rules.PredicateAny {
		for _, cond := range rule.Conditions {
			if e.evalCondition(cond, msg) {
				return true
			}
		}
		return false
	}

	for _, cond := range rule.Conditions {
		if !e.evalCondition(cond, msg) {
			return false
		}
	}
	return true
}

// processPair evaluates one (message, rule) pair, applying actions and
// writing the audit record on a match. A panic anywhere inside the pair
// is converted to an error so the loop can continue.
func (e *Engine) processPair(ctx context.Context, rule rules.Rule, msg *model.Message) (matched bool, actionCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !e.Matches(rule, msg) {
		return false, 0, nil
	}

	descriptions := e.applyActions(ctx, rule.Actions, msg)
	e.logger.Debug("rule matched",
		"rule", rule.Name, "emailID", msg.ID, "actions", len(descriptions))

	exec := model.RuleExecution{
		RuleName:   rule.Name,
		EmailID:    msg.ID,
		ExecutedAt: e.now(),
		Actions:    descriptions,
		Success:    true,
	}
	if recErr := e.store.RecordExecution(ctx, exec); recErr != nil {
		return true, len(descriptions), fmt.Errorf("record execution: %w", recErr)
	}

	return true, len(descriptions), nil
}

// applyActions runs a rule's action list against a message. Each action
// commits independently; a persistence failure rolls back that single
// in-memory mutation, is logged, and does not stop later actions. The
// returned descriptions cover only the actions that took effect.
func (e *Engine) applyActions(ctx context.Context, actions []rules.Action, msg *model.Message) []string {
	performed := make([]string, 0, len(actions))

	for _, action := range actions {
		switch action.Kind {
		case rules.ActionMarkRead:
			if e.setReadState(ctx, msg, true) {
				performed = append(performed, fmt.Sprintf("Marked as read: %s", msg.ID))
			}
		case rules.ActionMarkUnread:
			if e.setReadState(ctx, msg, false) {
				performed = append(performed, fmt.Sprintf("Marked as unread: %s", msg.ID))
			}
		case rules.ActionRelabel:
			if e.relabel(ctx, msg, action.Value) {
				performed = append(performed, fmt.Sprintf("Moved to %s: %s", action.Value, msg.ID))
			}
		}
	}

	return performed
}

func (e *Engine) setReadState(ctx context.Context, msg *model.Message, read bool) bool {
	prevRead, prevUpdated := msg.IsRead, msg.UpdatedAt
	msg.IsRead = read
	msg.UpdatedAt = e.now()

	if e.dryRun {
		return true
	}

	if err := e.store.SetReadState(ctx, msg.ID, read, msg.UpdatedAt); err != nil {
		msg.IsRead, msg.UpdatedAt = prevRead, prevUpdated
		e.logger.Warn("set read state failed", "emailID", msg.ID, "read", read, "err", err)
		return false
	}
	return true
}

// relabel appends a label to the message's label set. A label that is
// already present skips the commit but still reports as performed; the
// audit trail records the rule's intent, not a diff.
func (e *Engine) relabel(ctx context.Context, msg *model.Message, label string) bool {
	if msg.HasLabel(label) {
		return true
	}

	prevLabels, prevUpdated := msg.Labels, msg.UpdatedAt
	msg.Labels = model.JoinLabels(append(msg.LabelSet(), label))
	msg.UpdatedAt = e.now()

	if e.dryRun {
		return true
	}

	if err := e.store.SetLabels(ctx, msg.ID, msg.Labels, msg.UpdatedAt); err != nil {
		msg.Labels, msg.UpdatedAt = prevLabels, prevUpdated
		e.logger.Warn("set labels failed", "emailID", msg.ID, "label", label, "err", err)
		return false
	}
	return true
}

// recordFailure writes a best-effort failed audit record whose sole
// action description is the error text.
func (e *Engine) recordFailure(ctx context.Context, ruleName, emailID string, cause error) {
	exec := model.RuleExecution{
		RuleName:   ruleName,
		EmailID:    emailID,
		ExecutedAt: e.now(),
		Actions:    []string{cause.Error()},
		Success:    false,
	}
	if err := e.store.RecordExecution(ctx, exec); err != nil {
		e.logger.Warn("record failed execution", "rule", ruleName, "emailID", emailID, "err", err)
	}
}

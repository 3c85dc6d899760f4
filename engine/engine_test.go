package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kskmr6390/email-rule-ops/model"
	"github.com/kskmr6390/email-rule-ops/rules"
	"github.com/kskmr6390/email-rule-ops/store"
)

// failingStore wraps a MemoryStore and fails selected mutations.
type failingStore struct {
	*store.MemoryStore
	failSetLabels    bool
	failSetReadState bool
	failRecord       bool
}

func (f *failingStore) SetLabels(ctx context.Context, id string, labels string, updatedAt time.Time) error {
	if f.failSetLabels {
		return fmt.Errorf("disk full")
	}
	return f.MemoryStore.SetLabels(ctx, id, labels, updatedAt)
}

func (f *failingStore) SetReadState(ctx context.Context, id string, read bool, updatedAt time.Time) error {
	if f.failSetReadState {
		return fmt.Errorf("disk full")
	}
	return f.MemoryStore.SetReadState(ctx, id, read, updatedAt)
}

func (f *failingStore) RecordExecution(ctx context.Context, exec model.RuleExecution) error {
	if f.failRecord {
		return fmt.Errorf("disk full")
	}
	return f.MemoryStore.RecordExecution(ctx, exec)
}

func newsletterMessage(now time.Time) model.Message {
	return model.Message{
		ID:          "newsletter_1",
		ThreadID:    "thread_1",
		FromAddress: "newsletter@x.com",
		ToAddress:   "user@example.com",
		Subject:     "Weekly Newsletter",
		MessageBody: "This week in review",
		ReceivedAt:  now.Add(-time.Hour),
		Labels:      "INBOX",
	}
}

func newEngine(t *testing.T, st Store, ruleList []rules.Rule, now time.Time) *Engine {
	t.Helper()
	eng, err := New(st, ruleList, nil, Options{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return eng
}

func TestMatches_AllPredicate(t *testing.T) {
	now := time.Now().UTC()
	st := store.NewMemoryStore()
	eng := newEngine(t, st, nil, now)
	msg := newsletterMessage(now)

	passing := rules.Condition{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}
	failing := rules.Condition{Field: rules.FieldSubject, Operator: rules.OpContains, Value: "invoice"}

	rule := rules.Rule{Name: "all", Predicate: rules.PredicateAll, Conditions: []rules.Condition{passing, passing}}
	if !eng.Matches(rule, &msg) {
		t.Error("Expected All rule with all passing conditions to match")
	}

	// Flipping any one condition to fail flips the rule result.
	rule.Conditions = []rules.Condition{passing, failing}
	if eng.Matches(rule, &msg) {
		t.Error("Expected All rule with one failing condition not to match")
	}
}

func TestMatches_AnyPredicate(t *testing.T) {
	now := time.Now().UTC()
	st := store.NewMemoryStore()
	eng := newEngine(t, st, nil, now)
	msg := newsletterMessage(now)

	passing := rules.Condition{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}
	failing := rules.Condition{Field: rules.FieldSubject, Operator: rules.OpContains, Value: "invoice"}

	rule := rules.Rule{Name: "any", Predicate: rules.PredicateAny, Conditions: []rules.Condition{failing, passing}}
	if !eng.Matches(rule, &msg) {
		t.Error("Expected Any rule with one passing condition to match")
	}

	rule.Conditions = []rules.Condition{failing, failing}
	if eng.Matches(rule, &msg) {
		t.Error("Expected Any rule with all failing conditions not to match")
	}
}

func TestMatches_NoConditions(t *testing.T) {
	now := time.Now().UTC()
	st := store.NewMemoryStore()
	eng := newEngine(t, st, nil, now)
	msg := newsletterMessage(now)

	for _, p := range []rules.Predicate{rules.PredicateAll, rules.PredicateAny} {
		rule := rules.Rule{Name: "empty", Predicate: p}
		if eng.Matches(rule, &msg) {
			t.Errorf("Expected rule with no conditions never to match (predicate %s)", p)
		}
	}
}

func TestApplyActions_RelabelAlreadyPresent(t *testing.T) {
	now := time.Now().UTC()
	st := store.NewMemoryStore()
	eng := newEngine(t, st, nil, now)

	msg := newsletterMessage(now)
	msg.Labels = "INBOX,Newsletters"
	if err := st.UpsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	actions := []rules.Action{{Kind: rules.ActionRelabel, Value: "Newsletters"}}
	performed := eng.applyActions(context.Background(), actions, &msg)

	// No duplicate label, but the action is still reported as performed.
	if msg.Labels != "INBOX,Newsletters" {
		t.Errorf("Expected label set unchanged, got %q", msg.Labels)
	}
	if len(performed) != 1 {
		t.Fatalf("Expected 1 performed action, got %d", len(performed))
	}
	if performed[0] != "Moved to Newsletters: newsletter_1" {
		t.Errorf("Unexpected action description: %q", performed[0])
	}
}

func TestApplyActions_UnknownKindIgnored(t *testing.T) {
	now := time.Now().UTC()
	st := store.NewMemoryStore()
	eng := newEngine(t, st, nil, now)
	msg := newsletterMessage(now)
	if err := st.UpsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	actions := []rules.Action{
		{Kind: rules.ActionUnknown, Value: "x"},
		{Kind: rules.ActionMarkRead},
	}
	performed := eng.applyActions(context.Background(), actions, &msg)
	if len(performed) != 1 {
		t.Fatalf("Expected unknown action to be ignored, got %d descriptions", len(performed))
	}
}

func TestApplyActions_FailureRollsBackAndContinues(t *testing.T) {
	now := time.Now().UTC()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failSetLabels: true}
	eng := newEngine(t, st, nil, now)

	msg := newsletterMessage(now)
	if err := st.UpsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	actions := []rules.Action{
		{Kind: rules.ActionRelabel, Value: "Newsletters"},
		{Kind: rules.ActionMarkRead},
	}
	performed := eng.applyActions(context.Background(), actions, &msg)

	// The relabel failed: in-memory labels rolled back, no description,
	// and the following action still ran.
	if msg.Labels != "INBOX" {
		t.Errorf("Expected labels rolled back to INBOX, got %q", msg.Labels)
	}
	if len(performed) != 1 {
		t.Fatalf("Expected only the mark-read description, got %v", performed)
	}
	if performed[0] != "Marked as read: newsletter_1" {
		t.Errorf("Unexpected description: %q", performed[0])
	}
	if !msg.IsRead {
		t.Error("Expected message marked read despite earlier failure")
	}
}

func TestRun_EndToEndNewsletterScenario(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.UpsertMessage(ctx, newsletterMessage(now)); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	rule := rules.Rule{
		Name:      "Newsletter Cleanup",
		Predicate: rules.PredicateAll,
		Conditions: []rules.Condition{
			{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"},
			{Field: rules.FieldSubject, Operator: rules.OpContains, Value: "newsletter"},
		},
		Actions: []rules.Action{
			{Kind: rules.ActionMarkRead},
			{Kind: rules.ActionRelabel, Value: "Newsletters"},
		},
	}

	eng := newEngine(t, st, []rules.Rule{rule}, now)
	stats, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.EmailsProcessed != 1 || stats.RulesMatched != 1 || stats.ActionsExecuted != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	stored := st.Message("newsletter_1")
	if stored == nil {
		t.Fatal("Message missing from store")
	}
	if !stored.IsRead {
		t.Error("Expected message marked read in store")
	}
	if !stored.HasLabel("Newsletters") {
		t.Errorf("Expected Newsletters label, got %q", stored.Labels)
	}

	execs, err := st.ListExecutions(ctx)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("Expected 1 audit record, got %d", len(execs))
	}
	if !execs[0].Success {
		t.Error("Expected successful audit record")
	}
	if len(execs[0].Actions) != 2 {
		t.Errorf("Expected 2 action descriptions, got %v", execs[0].Actions)
	}
}

func TestRun_MessageMatchingTwoRules(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.UpsertMessage(ctx, newsletterMessage(now)); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	fromRule := rules.Rule{
		Name:       "first",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}},
		Actions:    []rules.Action{{Kind: rules.ActionMarkRead}},
	}
	subjectRule := rules.Rule{
		Name:       "second",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldSubject, Operator: rules.OpContains, Value: "weekly"}},
		Actions:    []rules.Action{{Kind: rules.ActionRelabel, Value: "Weekly"}},
	}

	eng := newEngine(t, st, []rules.Rule{fromRule, subjectRule}, now)
	stats, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.RulesMatched != 2 {
		t.Errorf("Expected rulesMatched = 2, got %d", stats.RulesMatched)
	}
	execs, _ := st.ListExecutions(ctx)
	if len(execs) != 2 {
		t.Errorf("Expected 2 audit records, got %d", len(execs))
	}
}

func TestRun_LiveMutationVisibleToLaterRules(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.UpsertMessage(ctx, newsletterMessage(now)); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	labeler := rules.Rule{
		Name:       "labeler",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}},
		Actions:    []rules.Action{{Kind: rules.ActionRelabel, Value: "Filed"}},
	}
	// Only matches once the first rule's label mutation is visible.
	follower := rules.Rule{
		Name:       "follower",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}},
		Actions:    []rules.Action{{Kind: rules.ActionRelabel, Value: "Filed"}},
	}

	eng := newEngine(t, st, []rules.Rule{labeler, follower}, now)
	if _, err := eng.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The second relabel saw the first one's label and skipped the
	// commit, so the label appears exactly once.
	stored := st.Message("newsletter_1")
	if stored.Labels != "INBOX,Filed" {
		t.Errorf("Expected single Filed label, got %q", stored.Labels)
	}

	// Both firings still report the action as performed.
	execs, _ := st.ListExecutions(ctx)
	if len(execs) != 2 {
		t.Fatalf("Expected 2 audit records, got %d", len(execs))
	}
	for _, exec := range execs {
		if len(exec.Actions) != 1 {
			t.Errorf("Expected 1 action description in %s, got %v", exec.RuleName, exec.Actions)
		}
	}
}

func TestRun_SecondRunStillMatches(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	msg := newsletterMessage(now)
	msg.ReceivedAt = now.Add(-35 * 24 * time.Hour)
	if err := st.UpsertMessage(ctx, msg); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	rule := rules.Rule{
		Name:       "Archive Old",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldReceivedAt, Operator: rules.OpLessThan, Value: "30 days"}},
		Actions:    []rules.Action{{Kind: rules.ActionMarkRead}},
	}

	eng := newEngine(t, st, []rules.Rule{rule}, now)

	first, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.RulesMatched != 1 || first.ActionsExecuted != 1 {
		t.Errorf("Unexpected first run stats: %+v", first)
	}
	if !st.Message("newsletter_1").IsRead {
		t.Fatal("Expected message marked read after first run")
	}

	// Re-match against the now-read message: no "already true"
	// short-circuit, the action still reports success.
	second, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.RulesMatched != 1 || second.ActionsExecuted != 1 {
		t.Errorf("Unexpected second run stats: %+v", second)
	}

	execs, _ := st.ListExecutions(ctx)
	if len(execs) != 2 {
		t.Errorf("Expected 2 audit records over both runs, got %d", len(execs))
	}
}

func TestRun_AuditWriteFailureRecordedAndRunContinues(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failRecord: true}

	if err := st.UpsertMessage(ctx, newsletterMessage(now)); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	matching := rules.Rule{
		Name:       "matching",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}},
		Actions:    []rules.Action{{Kind: rules.ActionMarkRead}},
	}

	eng := newEngine(t, st, []rules.Rule{matching, matching}, now)
	stats, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Both pairs failed at the audit write; the failing pairs' count
	// increments are absent but the run completed.
	if stats.EmailsProcessed != 1 {
		t.Errorf("Expected emailsProcessed = 1, got %d", stats.EmailsProcessed)
	}
	if stats.RulesMatched != 0 || stats.ActionsExecuted != 0 {
		t.Errorf("Expected no counted matches when audit writes fail, got %+v", stats)
	}
}

func TestRun_DryRunSkipsCommits(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	if err := st.UpsertMessage(ctx, newsletterMessage(now)); err != nil {
		t.Fatalf("UpsertMessage() error = %v", err)
	}

	rule := rules.Rule{
		Name:       "dry",
		Predicate:  rules.PredicateAny,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "newsletter"}},
		Actions: []rules.Action{
			{Kind: rules.ActionMarkRead},
			{Kind: rules.ActionRelabel, Value: "Newsletters"},
		},
	}

	eng, err := New(st, []rules.Rule{rule}, nil, Options{DryRun: true, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stats, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.RulesMatched != 1 || stats.ActionsExecuted != 2 {
		t.Errorf("Unexpected dry-run stats: %+v", stats)
	}

	// Store untouched, but the audit trail still shows what would fire.
	stored := st.Message("newsletter_1")
	if stored.IsRead {
		t.Error("Expected stored message untouched in dry run")
	}
	if stored.HasLabel("Newsletters") {
		t.Errorf("Expected stored labels untouched in dry run, got %q", stored.Labels)
	}
	execs, _ := st.ListExecutions(ctx)
	if len(execs) != 1 {
		t.Errorf("Expected audit record in dry run, got %d", len(execs))
	}
}

func TestRun_EmailsProcessedIndependentOfMatches(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()
	st := store.NewMemoryStore()

	for i := 0; i < 3; i++ {
		msg := newsletterMessage(now)
		msg.ID = fmt.Sprintf("msg_%d", i)
		if err := st.UpsertMessage(ctx, msg); err != nil {
			t.Fatalf("UpsertMessage() error = %v", err)
		}
	}

	never := rules.Rule{
		Name:       "never",
		Predicate:  rules.PredicateAll,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Operator: rules.OpContains, Value: "no-such-sender"}},
		Actions:    []rules.Action{{Kind: rules.ActionMarkRead}},
	}

	eng := newEngine(t, st, []rules.Rule{never}, now)
	stats, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.EmailsProcessed != 3 {
		t.Errorf("Expected emailsProcessed = 3, got %d", stats.EmailsProcessed)
	}
	if stats.RulesMatched != 0 || stats.ActionsExecuted != 0 {
		t.Errorf("Expected no matches, got %+v", stats)
	}
}

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/kskmr6390/email-rule-ops/engine"
	"github.com/kskmr6390/email-rule-ops/model"
	"github.com/kskmr6390/email-rule-ops/rules"
	"github.com/kskmr6390/email-rule-ops/store"
)

var demoRulesFile string

// DemoCmd runs the rule engine against sample data in memory, without
// Gmail credentials or a database file.
var DemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the rule engine against bundled sample emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		st := store.NewMemoryStore()
		for _, msg := range demoMessages() {
			if err := st.UpsertMessage(ctx, msg); err != nil {
				return fmt.Errorf("seed demo store: %w", err)
			}
		}

		ruleList, err := demoRules()
		if err != nil {
			return err
		}

		fmt.Println("Demo rules:")
		for _, r := range ruleList {
			fmt.Printf("  - %s\n", r.Summary())
		}
		fmt.Println()

		eng, err := engine.New(st, ruleList, logger, engine.Options{})
		if err != nil {
			return err
		}

		stats, err := eng.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Emails processed: %d\n", stats.EmailsProcessed)
		fmt.Printf("Rules matched:    %d\n", stats.RulesMatched)
		fmt.Printf("Actions executed: %d\n", stats.ActionsExecuted)
		fmt.Println()

		execs, err := st.ListExecutions(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Audit trail:")
		for _, exec := range execs {
			status := "ok"
			if !exec.Success {
				status = "FAILED"
			}
			fmt.Printf("  [%s] %s on %s\n", status, exec.RuleName, exec.EmailID)
			for _, action := range exec.Actions {
				fmt.Printf("      %s\n", action)
			}
		}

		return nil
	},
}

func init() {
	DemoCmd.Flags().StringVar(&demoRulesFile, "demo-rules", "", "Optional rules file to use instead of the bundled demo rules")
}

func demoRules() ([]rules.Rule, error) {
	if demoRulesFile != "" {
		loaded, rejected, err := rules.Load(demoRulesFile)
		if err != nil {
			return nil, err
		}
		for _, rejErr := range rejected {
			fmt.Printf("rule rejected: %v\n", rejErr)
		}
		return loaded, nil
	}
	loaded, _, err := rules.Parse([]byte(demoRulesJSON))
	return loaded, err
}

func demoMessages() []model.Message {
	now := time.Now().UTC()
	return []model.Message{
		{
			ID:          "newsletter_1",
			ThreadID:    "thread_1",
			FromAddress: "newsletter@techcompany.com",
			ToAddress:   "user@example.com",
			Subject:     "Weekly Tech Newsletter",
			MessageBody: "Check out our latest technology updates and news",
			ReceivedAt:  now,
			Labels:      "INBOX",
			Snippet:     "Weekly tech updates...",
		},
		{
			ID:          "old_email_1",
			ThreadID:    "thread_2",
			FromAddress: "oldfriend@example.com",
			ToAddress:   "user@example.com",
			Subject:     "Remember me?",
			MessageBody: "Hey, it has been a while since we talked",
			ReceivedAt:  now.Add(-35 * 24 * time.Hour),
			Labels:      "INBOX",
			Snippet:     "Old message from friend...",
		},
		{
			ID:          "urgent_1",
			ThreadID:    "thread_3",
			FromAddress: "boss@company.com",
			ToAddress:   "user@example.com",
			Subject:     "URGENT: Project Deadline",
			MessageBody: "This is urgent! We need to finish the project by tomorrow",
			ReceivedAt:  now,
			Labels:      "INBOX",
			Snippet:     "Urgent project deadline...",
		},
		{
			ID:          "social_1",
			ThreadID:    "thread_4",
			FromAddress: "notifications@facebook.com",
			ToAddress:   "user@example.com",
			Subject:     "New friend request",
			MessageBody: "You have a new friend request on Facebook",
			ReceivedAt:  now,
			Labels:      "INBOX",
			Snippet:     "New friend request...",
		},
	}
}

const demoRulesJSON = `{
  "rules": [
    {
      "name": "Newsletter Cleanup",
      "description": "Mark newsletters as read and file them away",
      "predicate": "All",
      "conditions": [
        {"field": "From", "predicate": "contains", "value": "newsletter"},
        {"field": "Subject", "predicate": "contains", "value": "newsletter"}
      ],
      "actions": [
        {"type": "mark as read"},
        {"type": "move message", "value": "Newsletters"}
      ]
    },
    {
      "name": "Archive Old Mail",
      "description": "File messages older than a month",
      "predicate": "Any",
      "conditions": [
        {"field": "Received Date/Time", "predicate": "less than", "value": "1 month"}
      ],
      "actions": [
        {"type": "mark as read"},
        {"type": "move message", "value": "Archive"}
      ]
    },
    {
      "name": "Flag Urgent",
      "description": "Label urgent mail and keep it unread",
      "predicate": "Any",
      "conditions": [
        {"field": "Subject", "predicate": "contains", "value": "urgent"},
        {"field": "Message", "predicate": "contains", "value": "urgent"}
      ],
      "actions": [
        {"type": "mark as unread"},
        {"type": "move message", "value": "Urgent"}
      ]
    }
  ]
}`

package model

import (
	"strings"
	"time"
)

// Message represents a single email message stored in the local database.
type Message struct {
	ID          string
	ThreadID    string
	FromAddress string
	ToAddress   string
	Subject     string
	MessageBody string
	ReceivedAt  time.Time
	IsRead      bool
	Labels      string // comma-separated list of label names
	Snippet     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RuleExecution records one rule-firing attempt against one message.
type RuleExecution struct {
	ID         int64
	RuleName   string
	EmailID    string
	ExecutedAt time.Time
	Actions    []string
	Success    bool
}

// LabelSet splits the delimited label column into individual label names.
// Empty entries are dropped.
func (m *Message) LabelSet() []string {
	if m.Labels == "" {
		return nil
	}
	parts := strings.Split(m.Labels, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		labels = append(labels, p)
	}
	return labels
}

// HasLabel reports whether the message carries the given label.
func (m *Message) HasLabel(name string) bool {
	for _, l := range m.LabelSet() {
		if l == name {
			return true
		}
	}
	return false
}

// JoinLabels builds the delimited label column from individual names.
func JoinLabels(labels []string) string {
	return strings.Join(labels, ",")
}

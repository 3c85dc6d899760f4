package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kskmr6390/email-rule-ops/model"
)

// MemoryStore keeps messages and audit records in memory. It backs the
// demo command and tests; it satisfies the same engine-facing interface
// as the SQLite store.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[string]*model.Message
	executions []model.RuleExecution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]*model.Message)}
}

func (m *MemoryStore) UpsertMessage(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := msg
	m.messages[msg.ID] = &stored
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := make([]model.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		messages = append(messages, *msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	return messages, nil
}

func (m *MemoryStore) SetReadState(_ context.Context, id string, read bool, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return fmt.Errorf("message %s not found", id)
	}
	msg.IsRead = read
	msg.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) SetLabels(_ context.Context, id string, labels string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return fmt.Errorf("message %s not found", id)
	}
	msg.Labels = labels
	msg.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) RecordExecution(_ context.Context, exec model.RuleExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec.ID = int64(len(m.executions) + 1)
	m.executions = append(m.executions, exec)
	return nil
}

func (m *MemoryStore) ListExecutions(_ context.Context) ([]model.RuleExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	execs := make([]model.RuleExecution, len(m.executions))
	copy(execs, m.executions)
	return execs, nil
}

// Message returns the stored message with the given id, or nil.
func (m *MemoryStore) Message(id string) *model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil
	}
	copied := *msg
	return &copied
}

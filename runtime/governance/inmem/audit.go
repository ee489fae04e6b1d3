// Package inmem provides an in-memory implementation of
// governance.AuditStore.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/agentd/runtime/governance"
)

// AuditLog is an in-memory append-only audit store. Safe for concurrent
// use.
type AuditLog struct {
	mu      sync.RWMutex
	entries []governance.AuditEntry
}

// New returns an empty AuditLog.
func New() *AuditLog {
	return &AuditLog{}
}

// AppendAudit implements governance.AuditStore.
func (l *AuditLog) AppendAudit(_ context.Context, entry governance.AuditEntry) error {
	if entry.ID == "" {
		return errors.New("audit entry id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// ListAudits implements governance.AuditStore.
func (l *AuditLog) ListAudits(_ context.Context, agentID string) ([]governance.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]governance.AuditEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if agentID == "" || e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

package governance

import (
	"sync"
	"time"
)

type (
	// QuotaKeeper tracks per-(agent, tool) daily invocation quotas. State is
	// in-process: quotas bound model-driven tool bursts within one runtime
	// lifetime and reset at the next UTC midnight.
	QuotaKeeper struct {
		mu         sync.Mutex
		defaultMax int
		limits     map[quotaKey]int
		usage      map[quotaKey]*toolQuota
	}

	quotaKey struct {
		agentID  string
		toolName string
	}

	toolQuota struct {
		usedToday int
		resetAt   time.Time
	}
)

// DefaultToolQuota is the daily per-(agent, tool) invocation cap applied
// when no explicit limit is set.
const DefaultToolQuota = 100

// NewQuotaKeeper returns a QuotaKeeper whose unconfigured (agent, tool)
// pairs allow defaultMax invocations per UTC day.
func NewQuotaKeeper(defaultMax int) *QuotaKeeper {
	return &QuotaKeeper{
		defaultMax: defaultMax,
		limits:     make(map[quotaKey]int),
		usage:      make(map[quotaKey]*toolQuota),
	}
}

// SetLimit overrides the daily cap for one (agent, tool) pair.
func (k *QuotaKeeper) SetLimit(agentID, toolName string, maxPerDay int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.limits[quotaKey{agentID, toolName}] = maxPerDay
}

// CheckToolQuota consumes one invocation from the (agent, tool) daily quota.
// It normalises the window when the reset instant has passed, fails with a
// *ToolQuotaExceededError when the quota is exhausted and increments the
// usage atomically otherwise.
func (k *QuotaKeeper) CheckToolQuota(agentID, toolName string, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := quotaKey{agentID, toolName}
	q := k.usage[key]
	if q == nil {
		q = &toolQuota{resetAt: startOfNextUTCDay(now)}
		k.usage[key] = q
	}
	if !now.Before(q.resetAt) {
		q.usedToday = 0
		q.resetAt = startOfNextUTCDay(now)
	}
	max := k.defaultMax
	if limit, ok := k.limits[key]; ok {
		max = limit
	}
	if q.usedToday >= max {
		return &ToolQuotaExceededError{AgentID: agentID, ToolName: toolName}
	}
	q.usedToday++
	return nil
}

func startOfNextUTCDay(now time.Time) time.Time {
	u := now.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(24 * time.Hour)
}

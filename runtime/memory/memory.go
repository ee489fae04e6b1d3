// Package memory defines the memory item store: tiered facts an agent
// retains across turns, searchable with cursor pagination.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Tier is the retention and retrieval class of an item.
	Tier string

	// Scope bounds where an item is visible.
	Scope string

	// Source records who produced an item.
	Source string

	// Sensitivity classifies how an item may be shared.
	Sensitivity string

	// Item is one stored memory entry.
	Item struct {
		// ID is the durable item identifier.
		ID string
		// AgentID is the owning agent.
		AgentID string
		// Tier is the retention class.
		Tier Tier
		// Scope bounds visibility.
		Scope Scope
		// Source records the producer.
		Source Source
		// Content is the memory text.
		Content string
		// MetadataJSON carries optional structured metadata as raw JSON.
		MetadataJSON string
		// GeneratedByTurnID links the item to the turn that produced it.
		GeneratedByTurnID string
		// SessionID links session-scoped items to their session.
		SessionID string
		// Sensitivity classifies sharing.
		Sensitivity Sensitivity
		// CreatedAt is the insertion instant.
		CreatedAt time.Time
		// UpdatedAt is the last mutation instant.
		UpdatedAt time.Time
	}

	// SortOrder orders search results.
	SortOrder string

	// SearchQuery filters and pages stored items.
	SearchQuery struct {
		// AgentID restricts results to one agent. Empty matches all.
		AgentID string
		// Tier restricts results to one tier. Empty matches all.
		Tier Tier
		// Scope restricts results to one scope. Empty matches all.
		Scope Scope
		// SessionID restricts results to one session. Empty matches all.
		SessionID string
		// Sort orders results; defaults to CreatedDesc.
		Sort SortOrder
		// Limit caps the page size; zero uses DefaultLimit.
		Limit int
		// Cursor resumes a previous search. Empty starts from the top.
		Cursor string
	}

	// SearchResult is one page of matches.
	SearchResult struct {
		// Items is the page content, ordered per the query sort.
		Items []Item
		// Cursor resumes after the last item; empty when the page is final.
		Cursor string
		// TotalCount is the total number of matches across all pages.
		TotalCount int
	}

	// Store persists memory items.
	Store interface {
		// Put inserts or replaces an item.
		Put(ctx context.Context, item Item) error
		// Search returns one page of matches.
		Search(ctx context.Context, q SearchQuery) (SearchResult, error)
		// Forget deletes the agent items created strictly before cutoff and
		// returns the number deleted.
		Forget(ctx context.Context, agentID string, cutoff time.Time) (int, error)
	}

	// Cursor is the decoded pagination state: the sort key of the last item
	// of the previous page.
	Cursor struct {
		CreatedAt time.Time `json:"createdAt"`
		ID        string    `json:"id"`
	}
)

const (
	// TierWorking holds short-lived scratch state.
	TierWorking Tier = "Working"
	// TierEpisodic holds event recollections.
	TierEpisodic Tier = "Episodic"
	// TierSemantic holds distilled facts.
	TierSemantic Tier = "Semantic"
	// TierProcedural holds learned procedures.
	TierProcedural Tier = "Procedural"

	// ScopeSession limits visibility to one session.
	ScopeSession Scope = "Session"
	// ScopeProject limits visibility to one project.
	ScopeProject Scope = "Project"
	// ScopeGlobal makes the item visible everywhere.
	ScopeGlobal Scope = "Global"

	// SourceUser marks user-provided items.
	SourceUser Source = "User"
	// SourceSystem marks runtime-provided items.
	SourceSystem Source = "System"
	// SourceAgent marks agent-derived items.
	SourceAgent Source = "Agent"

	// SensitivityPublic allows unrestricted sharing.
	SensitivityPublic Sensitivity = "Public"
	// SensitivityInternal limits sharing to the runtime.
	SensitivityInternal Sensitivity = "Internal"
	// SensitivityConfidential limits sharing to the owning agent.
	SensitivityConfidential Sensitivity = "Confidential"
	// SensitivityRestricted forbids sharing beyond explicit consent.
	SensitivityRestricted Sensitivity = "Restricted"

	// CreatedDesc orders newest first. This is the default.
	CreatedDesc SortOrder = "CreatedDesc"
	// CreatedAsc orders oldest first.
	CreatedAsc SortOrder = "CreatedAsc"

	// DefaultLimit is the page size used when a query does not set one.
	DefaultLimit = 50
)

// Validate reports the first invalid enum value carried by the item.
func (i Item) Validate() error {
	switch i.Tier {
	case TierWorking, TierEpisodic, TierSemantic, TierProcedural:
	default:
		return fmt.Errorf("invalid memory tier %q", i.Tier)
	}
	switch i.Scope {
	case ScopeSession, ScopeProject, ScopeGlobal:
	default:
		return fmt.Errorf("invalid memory scope %q", i.Scope)
	}
	switch i.Source {
	case SourceUser, SourceSystem, SourceAgent:
	default:
		return fmt.Errorf("invalid memory source %q", i.Source)
	}
	switch i.Sensitivity {
	case SensitivityPublic, SensitivityInternal, SensitivityConfidential, SensitivityRestricted:
	default:
		return fmt.Errorf("invalid memory sensitivity %q", i.Sensitivity)
	}
	return nil
}

// EncodeCursor renders c as an opaque page token.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque page token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	return c, nil
}

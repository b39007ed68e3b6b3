// Package memory implements the tiered knowledge store and the per-run
// shared memory context built from it.
//
// Three tiers with different mutability:
//   - legal: global statutory/case-law knowledge, read-only during runs
//   - firm: organizational practices and preferences, read-only during runs
//   - episodic: per-client analysis history, read-write
//
// Reads degrade to empty results on any failure; writes report StorageError
// to the caller, who decides whether the failure is fatal.
package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier identifies a knowledge collection.
type Tier string

const (
	// TierLegal holds statutes, case law and regulatory guidance shared by
	// every client. Workflow runs never write to it.
	TierLegal Tier = "legal"
	// TierFirm holds firm-wide drafting practices and attorney preferences.
	// Workflow runs never write to it.
	TierFirm Tier = "firm"
	// TierEpisodic holds per-client analysis history. Workflow runs append
	// findings, summaries and learnings here.
	TierEpisodic Tier = "episodic"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLegal, TierFirm, TierEpisodic:
		return true
	default:
		return false
	}
}

// Metadata keys with store-level meaning.
const (
	MetaClientID   = "client_id"
	MetaDocumentID = "document_id"
	MetaAgentName  = "agent_name"
	MetaRecordType = "type"
)

// Record types stored in the episodic tier.
const (
	RecordTypeFinding    = "agent_finding"
	RecordTypeSummary    = "analysis_summary"
	RecordTypeLearning   = "learning"
	RecordTypePreference = "preference"
	RecordTypeValidation = "cross_validation"
)

// KnowledgeRecord is a single stored entry in a tier.
type KnowledgeRecord struct {
	ID        string            `json:"id"`
	Tier      Tier              `json:"tier"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}

// QueryResult pairs a record with its similarity to the query text.
type QueryResult struct {
	Record KnowledgeRecord `json:"record"`
	Score  float64         `json:"score"` // cosine similarity, higher is closer
}

// NewRecordID generates a unique record identifier.
func NewRecordID() string {
	return "rec-" + uuid.New().String()
}

// FindingID returns the deterministic identifier for an agent finding, so a
// retried agent overwrites its previous result for the same document.
func FindingID(documentID, agentName string) string {
	return fmt.Sprintf("finding-%s-%s", documentID, agentName)
}

// StorageError wraps a store write failure. Callers log and continue unless
// the write is load-bearing for the current phase.
type StorageError struct {
	Op   string // "add", "query", "init"
	Tier Tier
	Err  error
}

func (e *StorageError) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("knowledge store %s on tier %s: %v", e.Op, e.Tier, e.Err)
	}
	return fmt.Sprintf("knowledge store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

package discovery

import (
	"github.com/kelarsco/sneaklink/discovery/internal/report"
	"github.com/kelarsco/sneaklink/discovery/internal/store"
)

// Aliases for the persisted types, so callers never import internal
// packages.
type (
	StoreRecord = store.StoreRecord
	RunRecord   = store.RunRecord
	Rejection   = store.Rejection
	Stats       = store.Stats
	RunReport   = report.RunReport
	SourceStats = report.SourceStats
)

// Status is the read-only run state exposed to the admin surface.
type Status struct {
	Running      bool       `json:"running"`
	CurrentRunID string     `json:"current_run_id,omitempty"`
	LastReport   *RunReport `json:"last_report,omitempty"`
	Stats        *Stats     `json:"stats"`
	PendingCount int        `json:"pending_count"`
}

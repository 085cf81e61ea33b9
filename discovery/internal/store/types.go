package store

// StoreRecord is the durable entity: one validated storefront, unique on
// IdentityURL. Created only after the pipeline confirms platform membership,
// open access, active status and a positive product count.
type StoreRecord struct {
	ID                      string   `json:"id"`
	IdentityURL             string   `json:"identity_url"`
	DisplayName             string   `json:"display_name"`
	Country                 string   `json:"country"`
	Theme                   string   `json:"theme"`
	BusinessModel           string   `json:"business_model"` // category name or "unclassified"
	BusinessModelConfidence float64  `json:"business_model_confidence"`
	Tags                    []string `json:"tags"`
	ProductCount            int      `json:"product_count"`
	IsActive                bool     `json:"is_active"`
	SourceName              string   `json:"source_name"` // adapter that first found it
	FirstSeenAt             int64    `json:"first_seen_at"`
	LastValidatedAt         int64    `json:"last_validated_at"`
	RetryCount              int      `json:"retry_count"`
	NextRetryAt             *int64   `json:"next_retry_at,omitempty"`
	TagsLocked              bool     `json:"tags_locked"`
	ReclassifyCount         int      `json:"reclassify_count"`
	Revisions               int      `json:"revisions"` // 0 on first upsert, +1 per refresh
}

// RunRecord is one finalized discovery run as persisted in the runs table.
type RunRecord struct {
	ID              string `json:"id"`
	Cadence         string `json:"cadence"`
	Status          string `json:"status"` // "running", "completed", "failed"
	StartedAt       int64  `json:"started_at"`
	FinishedAt      *int64 `json:"finished_at,omitempty"`
	TotalCandidates int    `json:"total_candidates"`
	TotalNew        int    `json:"total_new"`
	TotalRefreshed  int    `json:"total_refreshed"`
	TotalRejected   int    `json:"total_rejected"`
	TotalDeferred   int    `json:"total_deferred"`
	TotalErrors     int    `json:"total_errors"`
	PerSourceJSON   string `json:"per_source_json"`
	PerStageJSON    string `json:"per_stage_json"`
}

// Rejection is one durably logged pipeline rejection.
type Rejection struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	IdentityURL string `json:"identity_url"`
	SourceName  string `json:"source_name"`
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
	RejectedAt  int64  `json:"rejected_at"`
}

// AdapterState is per-source bookkeeping owned exclusively by its adapter:
// resume cursor, rolling request window and backoff deadline.
type AdapterState struct {
	SourceName   string `json:"source_name"`
	Cursor       string `json:"cursor"`
	WindowStart  int64  `json:"window_start"`
	RequestCount int    `json:"request_count"`
	BackoffUntil int64  `json:"backoff_until"` // ms epoch, 0 = none
	BackoffMs    int64  `json:"backoff_ms"`    // current exponential window
	UpdatedAt    int64  `json:"updated_at"`
}

// Stats holds aggregate counters for the status surface.
type Stats struct {
	Stores       int    `json:"stores"`
	ActiveStores int    `json:"active_stores"`
	Unclassified int    `json:"unclassified"`
	Runs         int    `json:"runs"`
	Rejections   int    `json:"rejections"`
	LastRunAt    *int64 `json:"last_run_at,omitempty"`
}

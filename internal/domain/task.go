package domain

import "time"

// Task names as they appear in queue descriptors and dedup lock keys.
const (
	TaskCrawlZigbang   = "crawl_zigbang_listings"
	TaskCrawlNaver     = "crawl_naver_listings"
	TaskCrawlRealTrade = "crawl_real_trade"
)

// DefaultFingerprint is used when a trigger does not carry its own
// fingerprint. All runs with the same (task, fingerprint) pair collapse into
// one within the dedup TTL window.
const DefaultFingerprint = "default"

// Terminal run statuses. Every executed task ends in exactly one of these.
const (
	StatusOK               = "ok"
	StatusSchemaMismatch   = "schema_mismatch"
	StatusSkippedDuplicate = "skipped_duplicate_execution"
	StatusUnexpectedError  = "unexpected_exception"
)

// TaskRequest is the queue descriptor for one crawl run.
type TaskRequest struct {
	ID            string    `json:"id"`
	Task          string    `json:"task"`
	Fingerprint   string    `json:"fingerprint"`
	Regions       []string  `json:"regions,omitempty"`
	PropertyTypes []string  `json:"property_types,omitempty"`
	Months        int       `json:"months,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// EnqueueReceipt reports whether a trigger actually queued work.
type EnqueueReceipt struct {
	Enqueued bool   `json:"enqueued"`
	TaskID   string `json:"task_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RunStats accumulates fetch-level counters over one crawl run.
type RunStats struct {
	Attempts  int `json:"attempts"`
	Retries   int `json:"retries"`
	Cooldowns int `json:"cooldowns"`
}

// Outcome is the terminal report of one task run. Field names are a
// compatibility surface consumed by monitoring and the results endpoint;
// reason and action_hint are only present for non-ok statuses.
type Outcome struct {
	Status      string `json:"status"`
	Fetched     int    `json:"fetched"`
	Inserted    int    `json:"inserted"`
	Deactivated int    `json:"deactivated"`
	Reason      string `json:"reason,omitempty"`
	ActionHint  string `json:"action_hint,omitempty"`
	Source      string `json:"source,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

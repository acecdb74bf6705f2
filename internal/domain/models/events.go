package models

import "time"

// Artifact event kinds published for alerting collaborators.
const (
	EventAnomaly = "anomaly"
	EventRisk    = "risk"
	EventInsight = "insight"
)

// ArtifactEvent announces a stored artifact above the configured severity.
type ArtifactEvent struct {
	Kind       string      `json:"kind"`
	TenantID   string      `json:"tenant_id"`
	Key        string      `json:"key"`
	Severity   string      `json:"severity"`
	OccurredAt time.Time   `json:"occurred_at"`
	RunID      string      `json:"run_id"`
	Payload    interface{} `json:"payload"`
}

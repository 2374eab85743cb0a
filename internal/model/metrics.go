package model

import (
	"encoding/json"
	"time"
)

// InstanceMetrics is the latest resource metrics snapshot for an instance.
// One row per instance, overwritten on every report.
type InstanceMetrics struct {
	InstanceID   string          `json:"instance_id" db:"instance_id"`
	Metrics      json.RawMessage `json:"metrics" db:"metrics"`
	LastModified time.Time       `json:"last_modified" db:"last_modified"`
}

package model

import (
	"encoding/json"
	"time"
)

// DeadLetterEvent is an event that exhausted its persistence retries. Rows
// are kept for inspection and can be replayed through the admin API.
type DeadLetterEvent struct {
	ID          string          `json:"id" db:"id"`
	ClusterName string          `json:"cluster_name" db:"cluster_name"`
	InstanceID  string          `json:"instance_id" db:"instance_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Reason      string          `json:"reason" db:"reason"`
	Attempts    int             `json:"attempts" db:"attempts"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

package model

import "time"

// ClusterState is the capacity governance state of a workspace cluster.
type ClusterState string

const (
	ClusterAvailable ClusterState = "available"
	ClusterCordoned  ClusterState = "cordoned"
	ClusterDraining  ClusterState = "draining"
	ClusterDeleted   ClusterState = "deleted"
)

// ValidClusterState reports whether s is a member of the known state set.
func ValidClusterState(s ClusterState) bool {
	switch s {
	case ClusterAvailable, ClusterCordoned, ClusterDraining, ClusterDeleted:
		return true
	}
	return false
}

// ValidClusterTransition reports whether from may move to to. The three live
// states move freely between each other and any of them may be deleted;
// deleted is terminal.
func ValidClusterTransition(from, to ClusterState) bool {
	if from == ClusterDeleted {
		return false
	}
	return ValidClusterState(to)
}

// WorkspaceCluster is an execution environment registered under a unique,
// immutable name.
type WorkspaceCluster struct {
	Name  string       `json:"name" db:"name"`
	Score int          `json:"score" db:"score"`
	State ClusterState `json:"state" db:"state"`
	// Deleted is a tombstone; rows are never hard-deleted.
	Deleted   bool      `json:"deleted" db:"deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Package timeline owns the commit timeline: each upsert attempt is an
// instant that moves strictly forward through REQUESTED → INFLIGHT →
// COMPLETED, with FAILED as a terminal side exit. Instant state and the
// commit metadata persisted on completion live in a durable Store.
package timeline

import (
	"fmt"
	"time"
)

// Instant identifies one logical commit attempt on the timeline.
type Instant string

func (i Instant) String() string { return string(i) }

// instantTimeLayout matches the commit-time format used in delta log file
// names: millisecond timestamps sort lexicographically in commit order.
const instantTimeLayout = "20060102150405.000"

// NewInstant allocates a fresh instant id from the wall clock.
func NewInstant() Instant {
	t := time.Now().UTC().Format(instantTimeLayout)
	// drop the fractional dot so ids stay filesystem friendly
	return Instant(t[:14] + t[15:])
}

// State is the lifecycle state of an instant. Transitions are monotonic and
// never revisited.
type State uint8

const (
	StateUnknown State = iota
	StateRequested
	StateInflight
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "REQUESTED"
	case StateInflight:
		return "INFLIGHT"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// StatusMetadata summarizes one write status inside persisted commit metadata.
type StatusMetadata struct {
	FileGroupID   string `json:"file_group_id"`
	PartitionPath string `json:"partition_path"`
	Kind          string `json:"kind"`
	Written       int    `json:"written"`
	Failed        int    `json:"failed,omitempty"`
	Bytes         int64  `json:"bytes,omitempty"`
}

// CommitMetadata is what Complete durably records alongside the state flip.
type CommitMetadata struct {
	Statuses     []StatusMetadata `json:"statuses"`
	TotalWritten int              `json:"total_written"`
	TotalFailed  int              `json:"total_failed,omitempty"`
}

// InstantRecord is the stored value for one instant. Metadata is keyed by
// writer id so that, under multi-writer-same-instant, each writer's
// contribution stays separately tracked.
type InstantRecord struct {
	State State `json:"state"`

	RequestedAt int64 `json:"requested_at_us"`
	InflightAt  int64 `json:"inflight_at_us,omitempty"`
	CompletedAt int64 `json:"completed_at_us,omitempty"`

	Writers  []string                  `json:"writers,omitempty"`
	Metadata map[string]CommitMetadata `json:"metadata,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
}

func (r *InstantRecord) hasWriter(id string) bool {
	for _, w := range r.Writers {
		if w == id {
			return true
		}
	}
	return false
}

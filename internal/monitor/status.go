package monitor

import "time"

// Validity is a collaborator-facing tri-state signal.
type Validity uint8

const (
	Unknown Validity = iota
	Valid
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// WarnNoDescriptor is returned by SetProjectPath for a directory without a
// project descriptor.
const WarnNoDescriptor = "Cannot find Uproject file on entered path"

// Status is a snapshot of the service's signals for presentation layers.
type Status struct {
	Project     Validity
	ProjectPath string
	ProjectName string
	LogPath     string

	Recipient Validity
	Handle    string
	Chat      ChatID

	// Primed is true once a cycle has completed for the current project.
	Primed   bool
	LastMask Mask
	LastTick time.Time
	Cycles   uint64
}

// signalsEqual compares the fields whose changes are published.
func (s Status) signalsEqual(o Status) bool {
	return s.Project == o.Project &&
		s.ProjectPath == o.ProjectPath &&
		s.ProjectName == o.ProjectName &&
		s.Recipient == o.Recipient &&
		s.Handle == o.Handle &&
		s.Chat == o.Chat
}

// TickResult describes one poll cycle.
type TickResult struct {
	At      time.Time
	Skipped bool
	Reason  string
	State   Mask
	Rising  []Flag
	Sent    int
	Failed  int
}

const (
	ReasonCancelled     = "cancelled"
	ReasonNoProject     = "project path not set"
	ReasonBadProject    = "invalid project path"
	ReasonNoRecipient   = "recipient not set"
	ReasonUnresolved    = "recipient unresolved"
	ReasonCycleInFlight = "cycle in flight"
)

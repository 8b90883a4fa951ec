package models

// CollectionPhase is the explicit run state of the collection engine. A
// single enum rules out the contradictory combinations a pair of booleans
// would allow.
type CollectionPhase string

const (
	PhaseIdle           CollectionPhase = "idle"
	PhaseRunning        CollectionPhase = "running"
	PhasePaused         CollectionPhase = "paused"
	PhaseAwaitingReauth CollectionPhase = "awaiting_reauth"
	PhaseCompleted      CollectionPhase = "completed"
	PhaseCancelled      CollectionPhase = "cancelled"
)

// CollectionState is the resumable progress of one batch run. It is persisted
// after every mutation so a restart can pick up mid-run.
type CollectionState struct {
	Phase        CollectionPhase `json:"phase"`
	Queue        []string        `json:"queue"`
	CurrentIndex int             `json:"currentIndex"`
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	TotalItems   int             `json:"totalItems"`
}

// IsCollecting reports whether a run is in progress, including paused and
// reauth-blocked runs.
func (s *CollectionState) IsCollecting() bool {
	switch s.Phase {
	case PhaseRunning, PhasePaused, PhaseAwaitingReauth:
		return true
	}
	return false
}

// IsPaused reports whether stepping is currently held.
func (s *CollectionState) IsPaused() bool {
	return s.Phase == PhasePaused || s.Phase == PhaseAwaitingReauth
}

// Clone returns a deep copy so callers can read state without racing the
// engine's mutations.
func (s *CollectionState) Clone() *CollectionState {
	c := *s
	c.Queue = append([]string(nil), s.Queue...)
	return &c
}

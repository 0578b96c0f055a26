package model

// EventKind distinguishes accepted writes from accepted deletes.
type EventKind string

const (
	EventSet    EventKind = "set"
	EventDelete EventKind = "delete"
)

// MutationEvent is emitted once per accepted write or delete on an observable
// container. Snapshot is a complete deep copy of the region after the
// mutation, not a diff.
type MutationEvent struct {
	Region   Region
	Kind     EventKind
	Snapshot map[string]any
}

// Type returns the wire tag for this event, e.g. "headers-set".
func (e MutationEvent) Type() string {
	return string(e.Region) + "-" + string(e.Kind)
}

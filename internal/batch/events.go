package batch

import "github.com/lehigh-university-libraries/imagebatch/internal/models"

// EventKind names what changed
type EventKind string

const (
	EventItem  EventKind = "item"
	EventState EventKind = "state"
	EventDone  EventKind = "done"
)

// Event is published to observers as the run progresses. Exactly one of
// Item, State and Summary is set, matching Kind.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Item    *models.WorkItem `json:"item,omitempty"`
	State   *models.RunState `json:"state,omitempty"`
	Summary *models.Summary  `json:"summary,omitempty"`
}

// Observer receives events synchronously on the run goroutine and must not
// call back into the runner.
type Observer func(Event)

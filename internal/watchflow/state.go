// Package watchflow drives one watch attempt from variant resolution through
// the optional ad gate to delivery dispatch.
package watchflow

import "time"

// Status of the current watch attempt.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRequesting  Status = "requesting"
	StatusAdGate      Status = "ad_gate"
	StatusDispatching Status = "dispatching"
	StatusQueued      Status = "queued"
	StatusError       Status = "error"
	StatusAdsCooldown Status = "ads_cooldown"
)

// Selection is what the user picked. Zero ids mean "not chosen".
type Selection struct {
	TitleID   int64  `json:"title_id"`
	EpisodeID *int64 `json:"episode_id"`
	AudioID   int64  `json:"audio_id"`
	QualityID int64  `json:"quality_id"`
}

// Complete reports whether the selection can be sent as a watch request.
func (s Selection) Complete() bool {
	return s.TitleID > 0 && s.AudioID > 0 && s.QualityID > 0
}

// State is the single WatchFlowState of the current attempt.
type State struct {
	Status     Status        `json:"status"`
	Selection  Selection     `json:"selection"`
	VariantID  int64         `json:"variant_id,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Nonce      string        `json:"-"`
}

// Event names a reducer input.
type Event string

const (
	EventSetParams Event = "set_params"
	EventRequest   Event = "request"
	EventAdGate    Event = "ad_gate"
	EventAdStarted Event = "ad_started"
	EventDispatch  Event = "dispatch"
	EventQueued    Event = "queued"
	EventFail      Event = "fail"
	EventCooldown  Event = "cooldown"
	EventReset     Event = "reset"
)

// Action is an Event plus the payload the target state needs.
type Action struct {
	Event      Event
	Selection  Selection     // set_params
	VariantID  int64         // ad_gate, dispatch
	Nonce      string        // ad_started
	Message    string        // fail
	RetryAfter time.Duration // cooldown
}

// transitions lists the legal edges; reset is legal from everywhere.
var transitions = map[Status]map[Event]Status{
	StatusIdle: {
		EventSetParams: StatusIdle,
		EventRequest:   StatusRequesting,
	},
	StatusRequesting: {
		EventAdGate:   StatusAdGate,
		EventDispatch: StatusDispatching,
		EventFail:     StatusError,
	},
	StatusAdGate: {
		EventSetParams: StatusIdle,
		EventAdStarted: StatusAdGate,
		EventDispatch:  StatusDispatching,
		EventCooldown:  StatusAdsCooldown,
		EventFail:      StatusError,
	},
	StatusDispatching: {
		EventQueued: StatusQueued,
		EventFail:   StatusError,
	},
	StatusQueued: {
		EventSetParams: StatusIdle,
		EventRequest:   StatusRequesting,
	},
	StatusError: {
		EventSetParams: StatusIdle,
		EventRequest:   StatusRequesting,
	},
	StatusAdsCooldown: {
		EventSetParams: StatusIdle,
		EventRequest:   StatusRequesting,
		EventAdStarted: StatusAdGate,
		EventCooldown:  StatusAdsCooldown,
		EventFail:      StatusError,
	},
}

// Allowed reports whether e is a legal input in status s.
func Allowed(s Status, e Event) bool {
	if e == EventReset {
		return true
	}
	_, ok := transitions[s][e]
	return ok
}

// Reduce applies a to s. Illegal inputs return s unchanged.
func Reduce(s State, a Action) State {
	if !Allowed(s.Status, a.Event) {
		return s
	}
	switch a.Event {
	case EventReset:
		return State{Status: StatusIdle}
	case EventSetParams:
		return State{Status: StatusIdle, Selection: a.Selection}
	case EventRequest:
		return State{Status: StatusRequesting, Selection: s.Selection}
	case EventAdGate:
		return State{Status: StatusAdGate, Selection: s.Selection, VariantID: a.VariantID}
	case EventAdStarted:
		return State{Status: StatusAdGate, Selection: s.Selection, VariantID: s.VariantID, Nonce: a.Nonce}
	case EventDispatch:
		next := State{Status: StatusDispatching, Selection: s.Selection, VariantID: s.VariantID}
		if a.VariantID > 0 {
			next.VariantID = a.VariantID
		}
		return next
	case EventQueued:
		return State{Status: StatusQueued, Selection: s.Selection, VariantID: s.VariantID}
	case EventFail:
		return State{Status: StatusError, Selection: s.Selection, VariantID: s.VariantID, Message: a.Message}
	case EventCooldown:
		return State{Status: StatusAdsCooldown, Selection: s.Selection, VariantID: s.VariantID, RetryAfter: a.RetryAfter}
	}
	return s
}

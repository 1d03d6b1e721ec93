package protocol

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Version is the only envelope protocol version this build speaks.
const Version = 1

// Kind distinguishes requests from their replies.
type Kind string

const (
	KindCall  Kind = "call"
	KindReply Kind = "reply"
)

// Channel names the logical pipe an envelope belongs to.
type Channel string

const (
	// ChannelControl carries worker-initiated calls (worker -> core).
	ChannelControl Channel = "control"
	// ChannelWork carries core-initiated calls (core -> worker).
	ChannelWork Channel = "work"
)

// Status is the wire form of a reply outcome.
type Status string

const (
	StatusOK             Status = "ok"
	StatusError          Status = "error"
	StatusNotImplemented Status = "not_implemented"
)

// Envelope is one newline-delimited JSON frame exchanged with a worker.
type Envelope struct {
	Protocol int             `json:"protocol"`
	Kind     Kind            `json:"kind"`
	Channel  Channel         `json:"channel"`
	ID       int64           `json:"id"`
	Method   string          `json:"method"`
	Args     []int64         `json:"args,omitempty"`
	Event    *Event          `json:"event,omitempty"` // work calls only
	Status   Status          `json:"status,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Event is one occurrence that needs eventual processing by the worker.
// Treat it as a value; NewEvent copies the attributes it is given.
type Event struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Source     string            `json:"source,omitempty"`
	At         time.Time         `json:"at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps a new event with a random ID and the current UTC time.
func NewEvent(kind, source string, attrs map[string]string) Event {
	var copied map[string]string
	if len(attrs) > 0 {
		copied = maps.Clone(attrs)
	}
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Source:     source,
		At:         time.Now().UTC(),
		Attributes: copied,
	}
}

// NewWorkCall builds the work-channel message for one dispatched event.
// The method name is intentionally empty; the callback handle is the sole argument.
func NewWorkCall(id, callbackHandle int64, ev Event) *Envelope {
	return &Envelope{
		Protocol: Version,
		Kind:     KindCall,
		Channel:  ChannelWork,
		ID:       id,
		Method:   "",
		Args:     []int64{callbackHandle},
		Event:    &ev,
	}
}

// NewControlCall builds a worker-initiated control message.
func NewControlCall(id int64, method string) *Envelope {
	return &Envelope{
		Protocol: Version,
		Kind:     KindCall,
		Channel:  ChannelControl,
		ID:       id,
		Method:   method,
	}
}

// CallbackHandle returns the first positional argument of a work call.
func (e *Envelope) CallbackHandle() (int64, bool) {
	if e == nil || len(e.Args) == 0 {
		return 0, false
	}
	return e.Args[0], true
}

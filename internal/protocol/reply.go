package protocol

import (
	"encoding/json"
	"fmt"
)

// Outcome is how a call terminated. Every observed call ends in exactly one outcome.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeAppError
	OutcomeNotImplemented
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAppError:
		return "error"
	case OutcomeNotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Status maps an outcome to its wire status.
func (o Outcome) Status() Status {
	switch o {
	case OutcomeSuccess:
		return StatusOK
	case OutcomeNotImplemented:
		return StatusNotImplemented
	default:
		return StatusError
	}
}

// OutcomeFromStatus maps a wire status to an outcome.
func OutcomeFromStatus(s Status) Outcome {
	switch s {
	case StatusOK:
		return OutcomeSuccess
	case StatusError:
		return OutcomeAppError
	case StatusNotImplemented:
		return OutcomeNotImplemented
	default:
		return OutcomeUnknown
	}
}

// Reply is the decoded result of a call on either channel.
type Reply struct {
	Outcome Outcome
	Result  json.RawMessage
	Message string
}

// ReplyOK builds a success reply. A result that cannot be marshaled becomes an error reply.
func ReplyOK(result any) Reply {
	if result == nil {
		return Reply{Outcome: OutcomeSuccess}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return ReplyError(fmt.Sprintf("marshal result: %v", err))
	}
	return Reply{Outcome: OutcomeSuccess, Result: raw}
}

func ReplyNotImplemented() Reply {
	return Reply{Outcome: OutcomeNotImplemented}
}

func ReplyError(msg string) Reply {
	if msg == "" {
		msg = "unspecified error"
	}
	return Reply{Outcome: OutcomeAppError, Message: msg}
}

// Envelope renders the reply as a frame answering call id on channel ch.
func (r Reply) Envelope(ch Channel, id int64) *Envelope {
	env := &Envelope{
		Protocol: Version,
		Kind:     KindReply,
		Channel:  ch,
		ID:       id,
		Status:   r.Outcome.Status(),
		Result:   r.Result,
	}
	if env.Status == StatusError {
		env.Error = r.Message
		if env.Error == "" {
			env.Error = "unspecified error"
		}
	}
	return env
}

// ReplyFromEnvelope extracts the reply carried by a reply frame.
func ReplyFromEnvelope(env *Envelope) Reply {
	return Reply{
		Outcome: OutcomeFromStatus(env.Status),
		Result:  env.Result,
		Message: env.Error,
	}
}

// Ack reports whether a success reply carried a boolean true result.
func (r Reply) Ack() bool {
	if r.Outcome != OutcomeSuccess {
		return false
	}
	var ok bool
	if err := json.Unmarshal(r.Result, &ok); err != nil {
		return false
	}
	return ok
}

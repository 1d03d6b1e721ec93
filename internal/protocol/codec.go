package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameBytes caps a single envelope line.
const MaxFrameBytes = 1 << 20

// ErrMalformed marks a frame that could be read but not accepted.
// The stream itself is still usable after a malformed frame.
var ErrMalformed = errors.New("malformed frame")

// Encoder writes envelopes as newline-delimited JSON. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates env and writes it as one line.
func (e *Encoder) Encode(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("envelope is nil")
	}
	if env.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", env.Protocol)
	}
	if err := Validate(env); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited envelopes.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Decode returns the next envelope together with the raw line it came from.
// A malformed line yields an error wrapping ErrMalformed and the raw bytes, so
// callers can log it and keep reading. io.EOF is returned unwrapped.
func (d *Decoder) Decode() (*Envelope, []byte, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, line, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, line, fmt.Errorf("%w: not valid JSON: %v", ErrMalformed, err)
		}
		if err := Validate(&env); err != nil {
			return &env, line, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &env, line, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > MaxFrameBytes {
			// Drop the rest of the oversized line so the stream stays aligned.
			for isPrefix {
				if _, isPrefix, err = d.r.ReadLine(); err != nil {
					return nil, err
				}
			}
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformed, MaxFrameBytes)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// Validate checks the structural rules of an envelope.
func Validate(env *Envelope) error {
	if env.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", env.Protocol)
	}
	if env.Channel != ChannelControl && env.Channel != ChannelWork {
		return fmt.Errorf("invalid channel: %q", env.Channel)
	}

	switch env.Kind {
	case KindCall:
		if env.Channel == ChannelWork && len(env.Args) != 1 {
			return fmt.Errorf("work call requires exactly one argument, got %d", len(env.Args))
		}
	case KindReply:
		if env.Status == "" {
			return fmt.Errorf("reply missing required field: status")
		}
		if OutcomeFromStatus(env.Status) == OutcomeUnknown {
			return fmt.Errorf("invalid status value: %q", env.Status)
		}
		if env.Status == StatusError && env.Error == "" {
			return fmt.Errorf("reply has status=error but no error message")
		}
	default:
		return fmt.Errorf("invalid kind: %q", env.Kind)
	}
	return nil
}

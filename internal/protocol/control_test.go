package protocol

import "testing"

func TestParseControl(t *testing.T) {
	tests := []struct {
		method string
		want   ControlMessage
	}{
		{MethodReady, Ready{}},
		{"BootHandlerService.initialized", Unknown{Name: "BootHandlerService.initialized"}},
		{"", Unknown{Name: ""}},
	}
	for _, tt := range tests {
		if got := ParseControl(tt.method); got != tt.want {
			t.Errorf("ParseControl(%q) = %#v, want %#v", tt.method, got, tt.want)
		}
	}
}

func TestNewEventCopiesAttributes(t *testing.T) {
	attrs := map[string]string{"action": "boot"}
	ev := NewEvent("boot_completed", "test", attrs)
	attrs["action"] = "mutated"

	if ev.Attributes["action"] != "boot" {
		t.Errorf("event attributes must not alias the caller's map")
	}
	if ev.ID == "" || ev.At.IsZero() {
		t.Errorf("expected id and timestamp to be set: %#v", ev)
	}
}

func TestOutcomeStatusMapping(t *testing.T) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeAppError, OutcomeNotImplemented} {
		if got := OutcomeFromStatus(o.Status()); got != o {
			t.Errorf("round trip of %s gave %s", o, got)
		}
	}
	if OutcomeUnknown.Status() != StatusError {
		t.Errorf("unknown outcome should be reported as error")
	}
}

func TestReplyAck(t *testing.T) {
	if !ReplyOK(true).Ack() {
		t.Error("ReplyOK(true) should ack")
	}
	if ReplyOK(false).Ack() {
		t.Error("ReplyOK(false) should not ack")
	}
	if ReplyNotImplemented().Ack() {
		t.Error("not implemented should not ack")
	}
	if r := ReplyOK(make(chan int)); r.Outcome != OutcomeAppError {
		t.Errorf("unmarshalable result should become an error reply, got %s", r.Outcome)
	}
}

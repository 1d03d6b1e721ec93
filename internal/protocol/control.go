package protocol

// MethodReady is the only control method the core understands.
const MethodReady = "ready"

// ControlMessage is the closed set of worker -> core control messages.
// Match it with a type switch over Ready and Unknown.
type ControlMessage interface {
	controlMessage()
}

// Ready reports that the worker finished initializing and accepts work calls.
type Ready struct{}

// Unknown is any control method the core does not implement.
type Unknown struct {
	Name string
}

func (Ready) controlMessage()   {}
func (Unknown) controlMessage() {}

// ParseControl maps a control method name to its message variant.
func ParseControl(method string) ControlMessage {
	if method == MethodReady {
		return Ready{}
	}
	return Unknown{Name: method}
}

// ControlHandler answers one control message. Implementations must not panic;
// receivers still recover and convert a panic into an error reply.
type ControlHandler func(ControlMessage) Reply

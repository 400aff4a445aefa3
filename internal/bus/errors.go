package bus

import "fmt"

// Kind classifies a framework-level Error so transports (notably the
// JSON-RPC adapter) can map it to their own error codes without inspecting
// message text.
type Kind int

const (
	// KindOther is an opaque module error carrying only a message.
	KindOther Kind = iota
	// KindNoModule means the addressed module is not registered on the bus.
	KindNoModule
	// KindNoStateMachine means the machine id has no entry in the registry.
	KindNoStateMachine
	// KindTransitionNotFound means the (state, token) pair has no edge.
	KindTransitionNotFound
	// KindMethodNotFound means a module received a Call for a method it
	// does not implement.
	KindMethodNotFound
	// KindCallParamInvalid means a Call's args could not be decoded into
	// the shape the handler expected.
	KindCallParamInvalid
	// KindJSONRPC carries a pre-formed JSON-RPC {code, message} pair that
	// should pass through the adapter unchanged.
	KindJSONRPC
	// KindModuleInstance means a module is not in a state where it can
	// service the call (e.g. StartNotify has not run yet).
	KindModuleInstance
)

// Error is the framework-level error every module boundary converts its
// private error enum into (spec: "each module converts its private error
// enum into a framework-level error at the actor boundary").
type Error struct {
	Kind    Kind
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bus: %s", kindName(e.Kind))
	}
	return e.Message
}

func kindName(k Kind) string {
	switch k {
	case KindNoModule:
		return "no module"
	case KindNoStateMachine:
		return "no state machine"
	case KindTransitionNotFound:
		return "transition not found"
	case KindMethodNotFound:
		return "method not found"
	case KindCallParamInvalid:
		return "call param invalid"
	case KindJSONRPC:
		return "json-rpc error"
	case KindModuleInstance:
		return "module instance error"
	default:
		return "other error"
	}
}

// ErrNoModule reports a Call or event subscription against an unknown module.
func ErrNoModule() *Error { return &Error{Kind: KindNoModule, Message: "no such module"} }

// ErrNoStateMachine reports a transition against an unknown machine id.
func ErrNoStateMachine() *Error {
	return &Error{Kind: KindNoStateMachine, Message: "no such state machine"}
}

// ErrTransitionNotFound reports an edge missing from a machine's state graph.
func ErrTransitionNotFound() *Error {
	return &Error{Kind: KindTransitionNotFound, Message: "transition not found"}
}

// ErrMethodNotFound reports a Call method a module does not implement.
func ErrMethodNotFound() *Error {
	return &Error{Kind: KindMethodNotFound, Message: "method not found"}
}

// ErrCallParamInvalid reports a Call whose args did not decode.
func ErrCallParamInvalid(reason string) *Error {
	return &Error{Kind: KindCallParamInvalid, Message: reason}
}

// ErrOther wraps an arbitrary module-level failure message.
func ErrOther(msg string) *Error { return &Error{Kind: KindOther, Message: msg} }

// ErrJSONRPC passes a pre-formed JSON-RPC error through the adapter unchanged.
func ErrJSONRPC(code int, msg string) *Error {
	return &Error{Kind: KindJSONRPC, Message: msg, Code: code}
}

// ErrModuleInstance reports a module not ready to service a call.
func ErrModuleInstance(msg string) *Error {
	return &Error{Kind: KindModuleInstance, Message: msg}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, k Kind) bool {
	be, ok := err.(*Error)
	return ok && be.Kind == k
}

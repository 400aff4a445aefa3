package txconn

import "github.com/curdata-project/walletframework/internal/bus"

// connError is the module-private error enum, mirroring tx-conn-udp's
// error.rs. Converted to bus.Error at the actor boundary.
type connError struct {
	kind    string
	message string
}

func (e *connError) Error() string { return e.message }

func newConnError(kind, message string) *connError {
	return &connError{kind: kind, message: message}
}

var (
	errConnectBroken     = newConnError("TXConnectBroken", "transaction connection broken")
	errConnectUrlUnvalid = newConnError("TXConnectUrlUnvalid", "route url is not a valid address")
	errConnectCollision  = newConnError("TXConnectCollision", "transaction id already in use")
	errBindError         = newConnError("TXBindError", "could not bind local udp endpoint")
	errRouteInfoNotFound = newConnError("TXRouteInfoNotFound", "no route info for address")
)

func toBusError(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*connError); ok {
		return bus.ErrOther(ce.message)
	}
	return bus.ErrOther(err.Error())
}

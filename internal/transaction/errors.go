package transaction

import "github.com/curdata-project/walletframework/internal/bus"

// txError is the module-private error enum, converted to bus.Error at the
// actor boundary. Mirrors the taxonomy used by the original transaction
// crate's error.rs.
type txError struct {
	kind    string
	message string
}

func (e *txError) Error() string { return e.message }

func newTXError(kind, message string) *txError {
	return &txError{kind: kind, message: message}
}

var (
	errMsgPackBroken         = newTXError("TXMsgPackBroken", "transaction message pack broken")
	errMachineDestoryed      = newTXError("TXMachineDestoryed", "transaction has been destroyed")
	errPaymentPlanNotForUser = newTXError("TXPaymentPlanNotForUser", "user is not party to this transaction")
	errClockSkewTooLarge     = newTXError("TXClockSkewTooLarge", "transaction clock skew too large")
	errSequenceNotExpect     = newTXError("TXSequenceNotExpect", "unexpected transaction sequence")
	errPayBalanceNotEnough   = newTXError("TXPayBalanceNotEnough", "insufficient balance for transaction")
)

// toBusError converts the module-private error into the framework-level
// error surfaced to the caller, per spec's propagation policy: every module
// converts its private error enum into a bus.Error at the actor boundary.
func toBusError(err error) error {
	if err == nil {
		return nil
	}
	if txe, ok := err.(*txError); ok {
		return bus.ErrOther(txe.message)
	}
	return bus.ErrOther(err.Error())
}

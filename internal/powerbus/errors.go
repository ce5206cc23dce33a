package powerbus

import "fmt"

// TransportError wraps any failed or timed-out call to the system power/
// service managers. Callers treat a timeout identically to an explicit
// failure response; nothing here is retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("power transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

package repositories

// CounterErrorCode says why an order-number sequence could not advance.
type CounterErrorCode string

const (
	// CounterErrorUnknown covers failures with no better classification.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput means the caller passed a bad id or step.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the sequence hit its configured cap.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError carries the machine-readable code services branch on
// when allocating order numbers.
type CounterError struct {
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError builds a CounterError, defaulting the message to the
// code when none is given.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

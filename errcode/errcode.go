package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	NotFitted     Code = "not_fitted"

	// Bus and peripheral faults.
	Timeout      Code = "timeout"
	BusNack      Code = "bus_nack"
	BusInUse     Code = "bus_in_use"
	DisplayWrite Code = "display_write"
	InitFailed   Code = "init_failed"
	BadChipID    Code = "bad_chip_id"

	// Network faults.
	LinkDown        Code = "link_down"
	ConnectFailed   Code = "connect_failed"
	InvalidResponse Code = "invalid_response"

	// Core faults.
	QueueCorrupt Code = "queue_corrupt"
	TaskTable    Code = "task_table_full"

	Error Code = "error" // generic fallback
)

// Class groups codes by how the caller recovers.
type Class uint8

const (
	// Transient failures are retried with bounded backoff.
	Transient Class = iota
	// Permanent failures disable the subsystem for the session.
	Permanent
	// Fatal failures reset the device.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Class reports the recovery class of a code.
func (c Code) Class() Class {
	switch c {
	case InitFailed, BadChipID, NotFitted, Unsupported:
		return Permanent
	case QueueCorrupt, TaskTable:
		return Fatal
	}
	return Transient
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap annotates err with an operation and code. A nil err stays nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	msg := ""
	if Of(err) != c {
		msg = err.Error()
	}
	return &E{C: c, Op: op, Msg: msg, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			return Of(inner)
		}
	}
	return Error
}

// ClassOf reports the recovery class of any error.
func ClassOf(err error) Class { return Of(err).Class() }

// MapDriverErr maps low-level bus errors to a Code. TinyGo drivers surface
// plain errors, so the mapping works on the message text.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	msg := err.Error()
	switch {
	case contains(msg, "timeout"), contains(msg, "timed out"):
		return Timeout
	case contains(msg, "nack"), contains(msg, "NACK"), contains(msg, "no ack"):
		return BusNack
	}
	return Error
}

func contains(s, sub string) bool {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		if s[i:i+n] == sub {
			return true
		}
	}
	return false
}

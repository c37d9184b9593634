// Package retcode defines the call result codes carried in response envelopes
// and returned to caller code on call-shape violations.
package retcode

import (
	"errors"
	"strconv"
)

type Code int32

const (
	OK Code = iota
	InvalidPcode
	Overflow
	SendAfterEOF
	RecvBeforeEOF
	RecvDuplicate
	InvalidRequest
	Internal
)

var names = [...]string{
	OK:             "OK",
	InvalidPcode:   "INVALID_PCODE",
	Overflow:       "OVERFLOW",
	SendAfterEOF:   "SEND_AFTER_EOF",
	RecvBeforeEOF:  "RECV_BEFORE_EOF",
	RecvDuplicate:  "RECV_DUPLICATE",
	InvalidRequest: "INVALID_REQUEST",
	Internal:       "INTERNAL",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "CODE_" + strconv.FormatInt(int64(c), 10)
}

// Error is a non-OK result: either reported by the peer in an error envelope
// or detected locally by a stream/stub state machine.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "rpc: " + e.Code.String()
	}
	return "rpc: " + e.Code.String() + ": " + e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrSendAfterEOF  = &Error{Code: SendAfterEOF, Message: "send after eof"}
	ErrRecvBeforeEOF = &Error{Code: RecvBeforeEOF, Message: "response requested before request eof"}
	ErrRecvDuplicate = &Error{Code: RecvDuplicate, Message: "terminal response already read"}
)

// Of extracts the result code of err. nil is OK, errors that carry no code
// are Internal.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

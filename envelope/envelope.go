// Package envelope builds and parses request and response envelopes.
//
// Request:  u32 pcode (BE) | u8 eof | payload
// Response: value map {ret_code, eof, response}
// Error:    value map {ret_code, response} with ret_code != OK
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/value"
)

var ErrMalformed = errors.New("envelope: malformed")

const (
	keyRetCode  = "ret_code"
	keyEOF      = "eof"
	keyResponse = "response"
)

type Request struct {
	Code    uint32
	EOF     bool
	Payload []byte
}

// AppendRequest appends a request envelope to b.
func AppendRequest(b []byte, code uint32, eof bool, payload []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, code)
	var flag byte
	if eof {
		flag = 1
	}
	b = append(b, flag)
	return append(b, payload...)
}

// ParseRequest splits the envelope without knowing the request type. Payload aliases b.
func ParseRequest(b []byte) (Request, error) {
	if len(b) < consts.RequestHeaderLen {
		return Request{}, fmt.Errorf("%w: request of %d bytes", ErrMalformed, len(b))
	}
	return Request{
		Code:    binary.BigEndian.Uint32(b),
		EOF:     b[4] != 0,
		Payload: b[consts.RequestHeaderLen:],
	}, nil
}

type Response struct {
	Code    retcode.Code
	EOF     bool
	Payload []byte
	// Message is set for error envelopes.
	Message string
}

// Err returns the remote error of an error envelope.
func (r Response) Err() error {
	if r.Code == retcode.OK {
		return nil
	}
	return retcode.New(r.Code, r.Message)
}

func MarshalResponse(code retcode.Code, eof bool, payload []byte) ([]byte, error) {
	var flag uint32
	if eof {
		flag = 1
	}
	if payload == nil {
		payload = []byte{}
	}
	return value.Serialize(map[string]any{
		keyRetCode:  int32(code),
		keyEOF:      flag,
		keyResponse: payload,
	})
}

func MarshalError(code retcode.Code, msg string) ([]byte, error) {
	if code == retcode.OK {
		return nil, errors.New("envelope: error envelope with OK code")
	}
	return value.Serialize(map[string]any{
		keyRetCode:  int32(code),
		keyResponse: msg,
	})
}

// ParseResponse decodes a response or error envelope. Error envelopes are terminal.
func ParseResponse(b []byte) (Response, error) {
	v, err := value.Parse(b)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	m, err := value.AsMap(v)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	code, err := value.Get(m, keyRetCode, value.AsInt32)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if retcode.Code(code) != retcode.OK {
		msg, err := value.Get(m, keyResponse, value.AsString)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Response{Code: retcode.Code(code), EOF: true, Message: msg}, nil
	}

	eof, err := value.Get(m, keyEOF, value.AsUint32)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	payload, err := value.Get(m, keyResponse, value.AsBytes)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Response{Code: retcode.OK, EOF: eof != 0, Payload: payload}, nil
}

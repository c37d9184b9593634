// Package datasource reads bench requests from a JSON lines file:
//
//	{"tag": "echo", "pcode": 1, "raw": "hello"}
//	{"tag": "sum", "pcode": 0, "payload": [1, 2, 3]}
//
// payload is a value sent in the binary value encoding, raw is a string sent
// as is.
package datasource

import (
	"bytes"
	"errors"

	"github.com/mailru/easyjson/jlexer"

	"github.com/ozontech/pnrpc/utils/lru"
	"github.com/ozontech/pnrpc/value"
)

const tagLRUSize = 1 << 10

var (
	ErrNoPcode   = errors.New("request has no pcode")
	ErrNoRequest = errors.New("no requests")
)

type Request struct {
	Tag     string
	Code    uint32
	Payload []byte
}

type DataSource interface {
	Fetch() (Request, error)
}

// Decoder parses request lines. Tags are interned.
type Decoder struct {
	tags *lru.Cache[string, string]
}

func NewDecoder() *Decoder {
	return &Decoder{lru.New[string, string](tagLRUSize)}
}

func (d *Decoder) Unmarshal(r *Request, line []byte) error {
	*r = Request{}
	in := jlexer.Lexer{Data: line}

	var hasCode bool
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		switch key {
		case "tag":
			r.Tag = d.intern(in.String())
		case "pcode":
			r.Code = in.Uint32()
			hasCode = true
		case "raw":
			r.Payload = []byte(in.String())
		case "payload":
			d.payload(&in, r)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()

	if err := in.Error(); err != nil {
		return err
	}
	if !hasCode {
		return ErrNoPcode
	}
	return nil
}

func (d *Decoder) payload(in *jlexer.Lexer, r *Request) {
	raw := in.Raw()
	if !in.Ok() {
		return
	}
	v, err := value.ParseJSON(raw)
	if err == nil {
		r.Payload, err = value.Serialize(v)
	}
	if err != nil {
		in.AddError(err)
	}
}

func (d *Decoder) intern(tag string) string {
	if v, ok := d.tags.Get(tag); ok {
		return v
	}
	d.tags.Add(tag, tag)
	return tag
}

func blank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

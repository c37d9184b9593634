package datasource

import (
	"io"

	"github.com/mailru/easyjson/jwriter"

	"github.com/ozontech/pnrpc/value"
)

// Writer writes request lines readable by Decoder.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w}
}

// WriteRequest writes payload as a value.
func (w *Writer) WriteRequest(tag string, code uint32, payload any) error {
	b, err := value.MarshalJSON(payload)
	if err != nil {
		return err
	}
	return w.write(tag, code, func(out *jwriter.Writer) {
		out.RawString(`,"payload":`)
		out.Raw(b, nil)
	})
}

// WriteRaw writes payload sent as is.
func (w *Writer) WriteRaw(tag string, code uint32, payload string) error {
	return w.write(tag, code, func(out *jwriter.Writer) {
		out.RawString(`,"raw":`)
		out.String(payload)
	})
}

func (w *Writer) write(tag string, code uint32, body func(*jwriter.Writer)) error {
	var out jwriter.Writer
	out.RawString(`{"tag":`)
	out.String(tag)
	out.RawString(`,"pcode":`)
	out.Uint32(code)
	body(&out)
	out.RawString("}\n")
	if out.Error != nil {
		return out.Error
	}
	_, err := out.DumpTo(w.w)
	return err
}

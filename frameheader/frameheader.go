package frameheader

import (
	"encoding/binary"
	"strconv"

	"github.com/ozontech/pnrpc/consts"
)

// FrameHeader заголовок фрейма: длина payload в big-endian.
type FrameHeader []byte

func NewFrameHeader() FrameHeader { return make([]byte, consts.FrameHeaderSize) }

func (f FrameHeader) Length() int {
	return int(binary.BigEndian.Uint32(f))
}

func (f FrameHeader) SetLength(l int) {
	_ = f[3]
	f[0] = byte(l >> 24)
	f[1] = byte(l >> 16)
	f[2] = byte(l >> 8)
	f[3] = byte(l)
}

// Valid reports whether the declared length is below limit.
func (f FrameHeader) Valid(limit int) bool {
	return f.Length() < limit
}

func (f FrameHeader) String() string {
	return "length=" + strconv.FormatUint(uint64(f.Length()), 10)
}

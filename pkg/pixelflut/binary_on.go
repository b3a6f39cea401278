//go:build binary

package pixelflut

import "github.com/helixml/breakwater/pkg/canvas"

const (
	pbPattern uint64 = uint64('P') | uint64('B')<<8
	pbMask    uint64 = 0x0000_ffff
)

// tryBinaryPB matches and, if matched, executes the 10-byte binary
// set-pixel command "PB<x u16 LE><y u16 LE><rgba u32 LE>", no
// terminator. The alpha byte is decoded but discarded, same as the
// ASCII 8-hex form without the alpha build tag — PB has no blended
// variant in the wire protocol.
func tryBinaryPB(fb *canvas.Framebuffer, buf []byte, i int, word uint64) (int, bool) {
	if word&pbMask != pbPattern {
		return 0, false
	}
	cmd := loadWord(buf, i+2)
	x := int(uint16(cmd))
	y := int(uint16(cmd >> 16))
	rgba := uint32(cmd >> 32)
	fb.Set(x, y, rgba&0x00ff_ffff)
	return i + 9, true
}

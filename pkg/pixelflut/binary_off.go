//go:build !binary

package pixelflut

import "github.com/helixml/breakwater/pkg/canvas"

// tryBinaryPB never matches when the binary build tag is unset: a
// "PB" prefix is treated as unrecognized input and the scan loop
// advances one byte at a time, same as any other malformed command.
func tryBinaryPB(fb *canvas.Framebuffer, buf []byte, i int, word uint64) (int, bool) {
	return 0, false
}

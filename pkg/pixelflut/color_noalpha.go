//go:build !alpha

package pixelflut

import "github.com/helixml/breakwater/pkg/canvas"

// setColorWithAlpha applies an 8-hex-digit PX color exactly like the
// 6-hex form: the alpha byte is decoded (so the scan loop still
// advances correctly) but discarded.
func setColorWithAlpha(fb *canvas.Framebuffer, x, y int, rgba uint32) {
	fb.Set(x, y, rgba&0x00ff_ffff)
}

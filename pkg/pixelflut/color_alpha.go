//go:build alpha

package pixelflut

import "github.com/helixml/breakwater/pkg/canvas"

// setColorWithAlpha applies an 8-hex-digit PX color with the alpha
// blend rule: new = (old*beta + new*alpha) / 255 per channel, where
// beta = 255-alpha. alpha == 0 or an out-of-bounds pixel is a no-op.
// R/G/B/A all come out of the same unhex8 layout as the 6-hex form
// (bits 0-7/8-15/16-23/24-31), so only the extra top byte and the
// blend arithmetic differ from the no-alpha build.
func setColorWithAlpha(fb *canvas.Framebuffer, x, y int, rgba uint32) {
	alpha := (rgba >> 24) & 0xff
	if alpha == 0 {
		return
	}
	old, ok := fb.Get(x, y)
	if !ok {
		return
	}
	beta := 0xff - alpha

	newR := rgba & 0xff
	newG := (rgba >> 8) & 0xff
	newB := (rgba >> 16) & 0xff

	oldR := old & 0xff
	oldG := (old >> 8) & 0xff
	oldB := (old >> 16) & 0xff

	r := (oldR*beta + newR*alpha) / 0xff
	g := (oldG*beta + newG*alpha) / 0xff
	b := (oldB*beta + newB*alpha) / 0xff

	fb.Set(x, y, r|g<<8|b<<16)
}

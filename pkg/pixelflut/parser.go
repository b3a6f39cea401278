// Package pixelflut implements the Pixelflut wire protocol: a
// branch-light scanner that dispatches ASCII (and, with the binary
// build tag, binary) drawing commands straight out of a connection's
// receive buffer into a canvas.Framebuffer.
package pixelflut

import (
	"bytes"
	"fmt"

	"github.com/helixml/breakwater/pkg/canvas"
)

// LookaheadBytes is the length of the longest possible command,
// "PX 1234 1234 rrggbbaa\n" — the number of zero-filled guard bytes
// pkg/server must keep past the end of real data so Parse can read
// whole machine words without a bounds check on every byte.
const LookaheadBytes = len("PX 1234 1234 rrggbbaa\n")

// helpQuota is how many times HELP gets the full help text before
// Parser switches to the short "stop spamming" reply.
const helpQuota = 3

var helpText = []byte(`Pixelflut server powered by breakwater.
Commands:
  HELP                    show this text
  SIZE                    report canvas dimensions
  OFFSET <x> <y>          offset all further pixel commands on this connection
  PX <x> <y>              query a pixel's color
  PX <x> <y> <rrggbb>     set a pixel
  PX <x> <y> <rrggbbaa>   set a pixel (alpha blended where supported)
  PX <x> <y> <gg>         set a pixel to a grayscale value
`)

var helpTooManyText = []byte("Stop spamming HELP!\n")

const (
	pxPattern     uint64 = uint64('P') | uint64('X')<<8 | uint64(' ')<<16
	pxMask        uint64 = 0x00ff_ffff
	offsetPattern uint64 = uint64('O') | uint64('F')<<8 | uint64('F')<<16 | uint64('S')<<24 | uint64('E')<<32 | uint64('T')<<40 | uint64(' ')<<48
	offsetMask    uint64 = 0x00ff_ffff_ffff_ffff
	sizePattern   uint64 = uint64('S') | uint64('I')<<8 | uint64('Z')<<16 | uint64('E')<<24
	sizeMask      uint64 = 0xffff_ffff
	helpPattern   uint64 = uint64('H') | uint64('E')<<8 | uint64('L')<<16 | uint64('P')<<24
	helpMask      uint64 = 0xffff_ffff
)

// Parser holds one connection's coordinate offset and HELP-quota
// state. It is bound to a single Framebuffer and must not be shared
// across connections — each connection owns exactly one Parser.
type Parser struct {
	fb        *canvas.Framebuffer
	xOffset   int
	yOffset   int
	helpCount int
}

// New returns a parser bound to fb with a fresh (0,0) offset.
func New(fb *canvas.Framebuffer) *Parser {
	return &Parser{fb: fb}
}

// loadWord reads an unaligned little-endian 64-bit word starting at
// buf[i]. The caller guarantees buf[i:i+8] is addressable.
func loadWord(buf []byte, i int) uint64 {
	_ = buf[i+7]
	return uint64(buf[i]) | uint64(buf[i+1])<<8 | uint64(buf[i+2])<<16 | uint64(buf[i+3])<<24 |
		uint64(buf[i+4])<<32 | uint64(buf[i+5])<<40 | uint64(buf[i+6])<<48 | uint64(buf[i+7])<<56
}

// Parse scans buf for Pixelflut commands, mutating the bound
// framebuffer and appending textual replies to response. buf must end
// with at least LookaheadBytes zero-filled guard bytes.
//
// It returns the index of the last byte of the last fully parsed
// command and true, or (0, false) if no command completed at all.
// This is the explicit-absence substitute for the wrapping-subtraction
// trick a literal port would otherwise need: the caller treats false
// as "nothing consumed, the whole buffer is leftover" instead of
// interpreting a huge wrapped index.
func (p *Parser) Parse(buf []byte, response *bytes.Buffer) (lastByteParsed int, ok bool) {
	loopEnd := len(buf) - LookaheadBytes
	i := 0

	for i < loopEnd {
		word := loadWord(buf, i)

		switch {
		case word&pxMask == pxPattern:
			if n, handled := p.parsePX(buf, i+3, response); handled {
				lastByteParsed, ok, i = n, true, n+1
				continue
			}
		default:
			if n, handled := tryBinaryPB(p.fb, buf, i, word); handled {
				lastByteParsed, ok, i = n, true, n+1
				continue
			}
			switch {
			case word&offsetMask == offsetPattern:
				if n, handled := p.parseOffset(buf, i+7); handled {
					lastByteParsed, ok, i = n, true, n+1
					continue
				}
			case word&sizeMask == sizePattern:
				p.writeSize(response)
				lastByteParsed, ok = i+3, true
				i += 4
				continue
			case word&helpMask == helpPattern:
				p.writeHelp(response)
				lastByteParsed, ok = i+3, true
				i += 4
				continue
			}
		}

		i++
	}

	return lastByteParsed, ok
}

// parsePX handles everything after the "PX " prefix: coordinates,
// then either a color (set) or a bare newline (get). pos is the index
// of the first coordinate digit. It returns the index of the last
// byte belonging to this command, or (0, false) if the bytes after
// the coordinates don't form a recognized PX command (the caller then
// falls back to advancing one byte at a time).
func (p *Parser) parsePX(buf []byte, pos int, response *bytes.Buffer) (int, bool) {
	x, y, pos, present := decodeCoordinatePair(buf, pos)
	if !present {
		return 0, false
	}
	x += p.xOffset
	y += p.yOffset

	switch buf[pos] {
	case ' ':
		colorPos := pos + 1
		switch {
		case buf[colorPos+6] == '\n':
			rgb := unhex8(buf[colorPos:]) & 0x00ff_ffff
			p.fb.Set(x, y, rgb)
			return colorPos + 6, true
		case buf[colorPos+8] == '\n':
			rgba := unhex8(buf[colorPos:])
			setColorWithAlpha(p.fb, x, y, rgba)
			return colorPos + 8, true
		case buf[colorPos+2] == '\n':
			gray := unhex8(buf[colorPos:]) & 0xff
			p.fb.Set(x, y, gray|gray<<8|gray<<16)
			return colorPos + 2, true
		}
	case '\n':
		if rgb, ok := p.fb.Get(x, y); ok {
			writePixelResponse(response, x-p.xOffset, y-p.yOffset, rgb)
		}
		return pos, true
	}
	return 0, false
}

// writePixelResponse appends "PX <x> <y> <rrggbb>\n" to response,
// extracting R, G, B from the low 24 bits of rgb using the same byte
// layout unhex8 decodes into (R at bits 0-7, G at 8-15, B at 16-23).
func writePixelResponse(response *bytes.Buffer, x, y int, rgb uint32) {
	fmt.Fprintf(response, "PX %d %d ", x, y)
	var hex [6]byte
	b := formatHexByte(hex[:0], byte(rgb))
	b = formatHexByte(b, byte(rgb>>8))
	b = formatHexByte(b, byte(rgb>>16))
	response.Write(b)
	response.WriteByte('\n')
}

// parseOffset handles everything after the "OFFSET " prefix. pos is
// the index of the first coordinate digit.
func (p *Parser) parseOffset(buf []byte, pos int) (int, bool) {
	x, y, pos, present := decodeCoordinatePair(buf, pos)
	if !present || buf[pos] != '\n' {
		return 0, false
	}
	p.xOffset = x
	p.yOffset = y
	return pos, true
}

func (p *Parser) writeSize(response *bytes.Buffer) {
	fmt.Fprintf(response, "SIZE %d %d\n", p.fb.Width(), p.fb.Height())
}

func (p *Parser) writeHelp(response *bytes.Buffer) {
	switch {
	case p.helpCount < helpQuota:
		response.Write(helpText)
	case p.helpCount == helpQuota:
		response.Write(helpTooManyText)
	default:
		return
	}
	p.helpCount++
}

// decodeCoordinate consumes up to 4 ASCII decimal digits starting at
// buf[pos], returning the parsed value and how many digits were
// consumed. Zero digits consumed means no coordinate was present.
func decodeCoordinate(buf []byte, pos int) (value, consumed int) {
	for consumed < 4 {
		c := buf[pos+consumed]
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + int(c-'0')
		consumed++
	}
	return value, consumed
}

// decodeCoordinatePair decodes "<x><sep><y>" starting at pos. Per the
// wire format a single byte separates the two numbers; like the
// reference parser this skips exactly one byte there unconditionally
// rather than validating it is a space — a non-space separator simply
// means the command was malformed and present end up routed through
// the caller's own trailing checks instead.
func decodeCoordinatePair(buf []byte, pos int) (x, y, newPos int, present bool) {
	x, n := decodeCoordinate(buf, pos)
	xOK := n > 0
	pos += n + 1
	y, n = decodeCoordinate(buf, pos)
	yOK := n > 0
	pos += n
	return x, y, pos, xOK && yOK
}

package pixelflut

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/breakwater/pkg/canvas"
)

// withGuard appends LookaheadBytes zero bytes to s, the guard every
// real caller (pkg/server's connection loop) is responsible for.
func withGuard(s string) []byte {
	buf := make([]byte, len(s)+LookaheadBytes)
	copy(buf, s)
	return buf
}

func newScenarioFB(t *testing.T) *canvas.Framebuffer {
	t.Helper()
	fb, err := canvas.New(1920, 1080)
	require.NoError(t, err)
	return fb
}

func TestScenarioSize(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("SIZE\n"), &resp)
	assert.True(t, ok)
	assert.Equal(t, "SIZE 1920 1080\n", resp.String())
}

func TestScenarioSetAndGetPixel(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 0 0 ffffff\nPX 0 0\n"), &resp)
	assert.True(t, ok)
	assert.Equal(t, "PX 0 0 ffffff\n", resp.String())

	got, ok := fb.Get(0, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(0x00ffffff), got&0x00ffffff)
}

func TestScenarioOutOfBoundsPixelIsSilent(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 9999 0 abcdef\nPX 9999 0\n"), &resp)
	assert.True(t, ok)
	assert.Empty(t, resp.String())
}

func TestScenarioOffsetTransparency(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("OFFSET 10 10\nPX 0 0 ffffff\nPX 0 0\nPX 42 42\n"), &resp)
	assert.True(t, ok)
	assert.Equal(t, "PX 0 0 ffffff\nPX 42 42 000000\n", resp.String())

	got, ok := fb.Get(10, 10)
	require.True(t, ok)
	assert.Equal(t, uint32(0xffffff), got&0xffffff)
}

func TestScenarioGrayscale(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 0 0 ab\nPX 0 0\n"), &resp)
	assert.True(t, ok)
	assert.Equal(t, "PX 0 0 ababab\n", resp.String())
}

func TestScenarioGarbagePrefixLeavesTrailingBytes(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	input := "bla bla\nSIZE\nblub"
	buf := withGuard(input)
	consumed, ok := p.Parse(buf, &resp)
	require.True(t, ok)
	assert.Equal(t, "SIZE 1920 1080\n", resp.String())

	// SIZE has no trailing-newline check (unlike PX/OFFSET), so the
	// newline the example writes after "SIZE" is itself unparsed and
	// rides along with "blub" into the leftover region.
	leftover := string(buf[consumed+1 : len(input)])
	assert.Equal(t, "\nblub", leftover)
}

func TestHelpQuota(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)

	for i := 0; i < 3; i++ {
		var resp bytes.Buffer
		_, ok := p.Parse(withGuard("HELP\n"), &resp)
		require.True(t, ok)
		assert.True(t, strings.Contains(resp.String(), "Commands:"), "occurrence %d", i+1)
	}

	var fourth bytes.Buffer
	_, ok := p.Parse(withGuard("HELP\n"), &fourth)
	require.True(t, ok)
	assert.Equal(t, string(helpTooManyText), fourth.String())

	var fifth bytes.Buffer
	_, ok = p.Parse(withGuard("HELP\n"), &fifth)
	require.True(t, ok)
	assert.Empty(t, fifth.String())
}

func TestNoCompleteCommandReturnsNotOK(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 1 1"), &resp)
	assert.False(t, ok)
	assert.Empty(t, resp.String())
}

func TestRoundTripProperty(t *testing.T) {
	fb := newScenarioFB(t)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 5 7 0a1b2c\nPX 5 7\n"), &resp)
	require.True(t, ok)
	assert.Equal(t, "PX 5 7 0a1b2c\n", resp.String())
}

func TestBoundsSafetyProperty(t *testing.T) {
	fb := newScenarioFB(t)
	before := append([]byte(nil), fb.AsBytes()...)
	p := New(fb)
	var resp bytes.Buffer
	_, ok := p.Parse(withGuard("PX 9999 9999 ffffff\n"), &resp)
	assert.True(t, ok)
	assert.Equal(t, before, fb.AsBytes())
}

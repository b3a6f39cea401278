package vnc

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/breakwater/pkg/canvas"
)

func TestServeClientHandshakeAndUpdate(t *testing.T) {
	fb, err := canvas.New(4, 3)
	require.NoError(t, err)
	fb.Set(0, 0, 0x11223344)

	client, srv := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveClient(ctx, srv, fb, time.Millisecond)

	r := bufio.NewReader(client)
	proto := make([]byte, 12)
	_, err = readFull(r, proto)
	require.NoError(t, err)
	assert.Equal(t, protocolVersion, string(proto))

	_, err = client.Write([]byte(protocolVersion))
	require.NoError(t, err)

	secTypes := make([]byte, 2)
	_, err = readFull(r, secTypes)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1}, secTypes)

	_, err = client.Write([]byte{1})
	require.NoError(t, err)

	result := make([]byte, 4)
	_, err = readFull(r, result)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, result)

	_, err = client.Write([]byte{1})
	require.NoError(t, err)

	name := []byte(serverName)
	serverInit := make([]byte, 24+len(name))
	_, err = readFull(r, serverInit)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(serverInit[0:2]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(serverInit[2:4]))
	assert.Equal(t, name, serverInit[24:])

	req := make([]byte, 10)
	req[0] = cliFramebufferUpdateReq
	_, err = client.Write(req)
	require.NoError(t, err)

	header := make([]byte, 16)
	_, err = readFull(r, header)
	require.NoError(t, err)
	assert.Equal(t, byte(msgFramebufferUpdate), header[0])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(header[2:4]))
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(header[8:10]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(header[10:12]))

	pixels := make([]byte, fb.Size()*4)
	_, err = readFull(r, pixels)
	require.NoError(t, err)
	assert.Equal(t, fb.AsBytes(), pixels)

	client.Close()
}

// TestAdvertisedShiftsDecodeTheSetPixel drives a full handshake plus
// a framebuffer update over a single pixel with distinct R/G/B values
// and decodes the wire bytes using exactly the shifts ServerInit
// advertised, to confirm a client reconstructs the same color the
// server actually set rather than a channel-swapped one.
func TestAdvertisedShiftsDecodeTheSetPixel(t *testing.T) {
	fb, err := canvas.New(1, 1)
	require.NoError(t, err)
	const red, green, blue, alpha = 0x11, 0x22, 0x33, 0x44
	fb.Set(0, 0, uint32(alpha)<<24|uint32(blue)<<16|uint32(green)<<8|uint32(red))

	client, srv := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveClient(ctx, srv, fb, time.Millisecond)

	r := bufio.NewReader(client)
	serverInit, err := negotiate(r, client)
	require.NoError(t, err)
	redShift, greenShift, blueShift := serverInit[14], serverInit[15], serverInit[16]

	req := make([]byte, 10)
	req[0] = cliFramebufferUpdateReq
	_, err = client.Write(req)
	require.NoError(t, err)

	header := make([]byte, 16)
	_, err = readFull(r, header)
	require.NoError(t, err)

	pixel := make([]byte, 4)
	_, err = readFull(r, pixel)
	require.NoError(t, err)

	value := binary.LittleEndian.Uint32(pixel)
	assert.Equal(t, byte(red), byte(value>>redShift))
	assert.Equal(t, byte(green), byte(value>>greenShift))
	assert.Equal(t, byte(blue), byte(value>>blueShift))

	client.Close()
}

// negotiate plays the client side of the RFB handshake and returns
// the raw ServerInit bytes for the caller to inspect.
func negotiate(r *bufio.Reader, client net.Conn) ([]byte, error) {
	if _, err := readFull(r, make([]byte, 12)); err != nil {
		return nil, err
	}
	if _, err := client.Write([]byte(protocolVersion)); err != nil {
		return nil, err
	}
	if _, err := readFull(r, make([]byte, 2)); err != nil {
		return nil, err
	}
	if _, err := client.Write([]byte{1}); err != nil {
		return nil, err
	}
	if _, err := readFull(r, make([]byte, 4)); err != nil {
		return nil, err
	}
	if _, err := client.Write([]byte{1}); err != nil {
		return nil, err
	}
	serverInit := make([]byte, 24+len(serverName))
	_, err := readFull(r, serverInit)
	return serverInit, err
}

//go:build linux

package canvas

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// NewShared allocates a width x height framebuffer backed by a POSIX
// shared-memory segment under shmDir (typically /dev/shm), so an
// external process (a renderer, a debugging tool) can mmap the exact
// same pixel bytes Breakwater writes. If the segment already exists
// with a different size, that is a fatal configuration error — the
// caller almost certainly pointed two differently-sized servers at the
// same segment.
func NewShared(width, height int, shmDir, name string) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas: invalid dimensions %dx%d", width, height)
	}

	shmDir, err := EnsureDir(shmDir)
	if err != nil {
		return nil, fmt.Errorf("canvas: prepare shared memory directory: %w", err)
	}

	wantBytes := int64(width) * int64(height) * 4
	path := filepath.Join(shmDir, name)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("canvas: open shared memory segment %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("canvas: stat shared memory segment %s: %w", path, err)
	}

	switch {
	case st.Size == 0:
		if err := unix.Ftruncate(fd, wantBytes); err != nil {
			return nil, fmt.Errorf("canvas: size shared memory segment %s to %d bytes: %w", path, wantBytes, err)
		}
	case st.Size != wantBytes:
		return nil, fmt.Errorf("canvas: shared memory segment %s is %d bytes, want %d for a %dx%d canvas (%w)",
			path, st.Size, wantBytes, width, height, ErrSharedMemorySizeMismatch)
	}

	data, err := unix.Mmap(fd, 0, int(wantBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("canvas: mmap shared memory segment %s: %w", path, err)
	}

	return &Framebuffer{
		width:  width,
		height: height,
		pixels: atomicSliceOverBytes(data),
	}, nil
}

// shmDefaultDir is the conventional POSIX shared-memory mount point.
const shmDefaultDir = "/dev/shm"

// EnsureDir resolves dir (defaulting to shmDefaultDir when empty) and
// creates it if it does not already exist, returning the resolved
// path for the caller to use.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = shmDefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

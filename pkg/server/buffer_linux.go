//go:build linux

package server

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// newConnBuffer allocates a page-aligned anonymous mapping of n bytes
// for one connection's receive buffer and advises the kernel that
// access is sequential. A madvise failure is
// logged and otherwise ignored: it's a throughput hint, not a
// correctness requirement.
func newConnBuffer(n int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("server: mmap connection buffer: %w", err)
	}
	if err := unix.Madvise(buf, unix.MADV_SEQUENTIAL); err != nil {
		log.Warn().Err(err).Msg("madvise MADV_SEQUENTIAL on connection buffer failed, continuing without the hint")
	}
	return buf, nil
}

func freeConnBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if err := unix.Munmap(buf); err != nil {
		log.Warn().Err(err).Msg("munmap connection buffer failed")
	}
}

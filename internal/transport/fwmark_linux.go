//go:build linux

package transport

import (
	"fmt"
	"syscall"
)

// setSocketMark applies a Linux SO_MARK to a dial socket so the relay
// connection can be excluded from policy routing back through the tunnel
// it's establishing.
func setSocketMark(fd uintptr, mark uint32) error {
	if mark == 0 {
		return nil
	}
	if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_MARK, int(mark)); err != nil {
		return fmt.Errorf("setsockopt SO_MARK=%d: %w", mark, err)
	}
	return nil
}

//go:build !windows

package infrastructure

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func sameVolume(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", a, err)
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", b, err)
	}
	return sa.Dev == sb.Dev, nil
}

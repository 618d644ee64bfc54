//go:build windows

package infrastructure

import (
	"path/filepath"
	"strings"
)

func sameVolume(a, b string) (bool, error) {
	return strings.EqualFold(filepath.VolumeName(a), filepath.VolumeName(b)), nil
}

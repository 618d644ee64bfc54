package infrastructure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

const (
	deleteFilesList = "deletefiles.txt"
	hdiffFilesList  = "hdifffiles.txt"
)

// DiffApplier applies the file lists shipped inside incremental packages
type DiffApplier struct {
	hpatch string
	logger *zap.Logger
}

// NewDiffApplier creates an applier that patches with the given hpatchz binary
func NewDiffApplier(hpatchBinary string, logger *zap.Logger) *DiffApplier {
	if hpatchBinary == "" {
		hpatchBinary = "hpatchz"
	}
	return &DiffApplier{hpatch: hpatchBinary, logger: logger}
}

// Apply processes deletefiles.txt then hdifffiles.txt under installPath and
// removes both lists when done
func (d *DiffApplier) Apply(ctx context.Context, installPath string) error {
	if err := d.applyDeletes(installPath); err != nil {
		return err
	}
	return d.applyPatches(ctx, installPath)
}

func (d *DiffApplier) applyDeletes(installPath string) error {
	list := filepath.Join(installPath, deleteFilesList)
	lines, err := readLines(list)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", deleteFilesList, err)
	}

	for _, name := range lines {
		target, err := domain.SafeJoin(installPath, name)
		if err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		d.logger.Debug("Deleted obsolete file", zap.String("path", target))
	}
	return os.Remove(list)
}

func (d *DiffApplier) applyPatches(ctx context.Context, installPath string) error {
	list := filepath.Join(installPath, hdiffFilesList)
	lines, err := readLines(list)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", hdiffFilesList, err)
	}

	patched := 0
	for _, line := range lines {
		var entry struct {
			RemoteName string `json:"remoteName"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return fmt.Errorf("invalid %s line %q: %w", hdiffFilesList, line, err)
		}
		target, err := domain.SafeJoin(installPath, entry.RemoteName)
		if err != nil {
			return err
		}
		diff := target + ".hdiff"
		if !fileExists(target) || !fileExists(diff) {
			continue
		}

		if info, err := os.Stat(target); err == nil && info.Mode()&0200 == 0 {
			os.Chmod(target, info.Mode()|0200)
		}
		if _, err := RunCommand(ctx, d.logger, d.hpatch, "-f", target, diff, target); err != nil {
			return fmt.Errorf("failed to patch %s: %w", entry.RemoteName, err)
		}
		if err := os.Remove(diff); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", diff, err)
		}
		patched++
	}

	d.logger.Info("Applied incremental patches",
		zap.String("path", installPath),
		zap.Int("patched", patched))
	return os.Remove(list)
}

// readLines returns the non-blank lines of a text file
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// fileExists reports whether path names an existing regular file
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

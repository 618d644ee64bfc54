package infrastructure

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bodgit/sevenzip"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// msdosDirectory is the MS-DOS directory bit of a zip entry's external attributes
const msdosDirectory = 0x10

// VolumeReader presents an ordered list of split archive volumes as one
// random-access stream
type VolumeReader struct {
	mu      sync.Mutex
	files   []*os.File
	offsets []int64 // start offset of each volume
	size    int64
}

// OpenVolumes opens the given volumes in order
func OpenVolumes(paths []string) (*VolumeReader, error) {
	if len(paths) == 0 {
		return nil, errors.New("no archive volumes")
	}

	v := &VolumeReader{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("failed to open volume: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			v.Close()
			return nil, fmt.Errorf("failed to stat volume: %w", err)
		}
		v.files = append(v.files, f)
		v.offsets = append(v.offsets, v.size)
		v.size += info.Size()
	}
	return v, nil
}

// Size returns the combined length of all volumes
func (v *VolumeReader) Size() int64 {
	return v.size
}

// ReadAt reads len(p) bytes at off, crossing volume boundaries as needed
func (v *VolumeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= v.size {
		return 0, io.EOF
	}

	// first volume whose start is past off, minus one
	idx := sort.Search(len(v.offsets), func(i int) bool { return v.offsets[i] > off }) - 1

	total := 0
	for total < len(p) && idx < len(v.files) {
		local := off + int64(total) - v.offsets[idx]
		n, err := v.files[idx].ReadAt(p[total:], local)
		total += n
		if err != nil && err != io.EOF {
			return total, err
		}
		if n == 0 || err == io.EOF {
			idx++
		}
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// Close closes every volume
func (v *VolumeReader) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	for _, f := range v.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	v.files = nil
	return errors.Join(errs...)
}

// Extract unpacks the split archive made of paths into target. The format
// is chosen from the first volume name: .7z (optionally .7z.001) goes
// through sevenzip, everything else is read as zip. onWrite receives the
// number of decompressed bytes after every write.
func Extract(ctx context.Context, paths []string, target string, onWrite func(n int64)) (int64, error) {
	vr, err := OpenVolumes(paths)
	if err != nil {
		return 0, err
	}
	defer vr.Close()

	if err := os.MkdirAll(target, 0755); err != nil {
		return 0, fmt.Errorf("failed to create target directory: %w", err)
	}

	if isSevenZip(paths[0]) {
		return extractSevenZip(ctx, vr, target, onWrite)
	}
	return extractZip(ctx, vr, target, onWrite)
}

// ArchiveExtractor exposes Extract as a method value for the install engine
type ArchiveExtractor struct{}

// Extract calls the package level Extract
func (ArchiveExtractor) Extract(ctx context.Context, paths []string, target string, onWrite func(n int64)) (int64, error) {
	return Extract(ctx, paths, target, onWrite)
}

func isSevenZip(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".7z") || strings.Contains(name, ".7z.")
}

func extractZip(ctx context.Context, vr *VolumeReader, target string, onWrite func(int64)) (int64, error) {
	zr, err := zip.NewReader(vr, vr.Size())
	if err != nil {
		return 0, fmt.Errorf("failed to read zip archive: %w", err)
	}

	var written int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		dest, err := domain.SafeJoin(target, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() || f.ExternalAttrs&msdosDirectory != 0 {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return written, fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return written, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		n, err := writeEntry(ctx, rc, dest, onWrite)
		rc.Close()
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return written, nil
}

func extractSevenZip(ctx context.Context, vr *VolumeReader, target string, onWrite func(int64)) (int64, error) {
	sr, err := sevenzip.NewReader(vr, vr.Size())
	if err != nil {
		return 0, fmt.Errorf("failed to read 7z archive: %w", err)
	}

	var written int64
	for _, f := range sr.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		dest, err := domain.SafeJoin(target, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return written, fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return written, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		n, err := writeEntry(ctx, rc, dest, onWrite)
		rc.Close()
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return written, nil
}

func writeEntry(ctx context.Context, r io.Reader, dest string, onWrite func(int64)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	// replace rather than rewrite, so a hard-linked sibling keeps its copy
	if info, err := os.Lstat(dest); err == nil {
		if info.Mode()&0200 == 0 {
			os.Chmod(dest, info.Mode()|0200)
		}
		if err := os.Remove(dest); err != nil {
			return 0, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(&progressWriter{ctx: ctx, w: out, onWrite: onWrite}, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

type progressWriter struct {
	ctx     context.Context
	w       io.Writer
	onWrite func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	if n > 0 && p.onWrite != nil {
		p.onWrite(int64(n))
	}
	return n, err
}

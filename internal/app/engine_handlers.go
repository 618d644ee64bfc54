package app

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/ratelimit"
)

const hashBufferSize = 1 << 20

// download fetches an item into its working file, resuming from whatever is
// already on disk, then checks the MD5 and moves a temp file into place.
// A matching file already at the destination completes without a fetch.
func (e *Engine) download(ctx context.Context, item domain.InstallItem) error {
	path := item.WorkingPath()
	expected := item.ExpectedLength()

	if item.WriteAsTempFile {
		staged, err := fileMatches(ctx, item.Path, expected, item.MD5)
		if err != nil {
			return err
		}
		if staged {
			os.Remove(path)
			e.complete(item.Path, expected)
			e.logger.Debug("Package already on disk",
				zap.String("path", item.Path),
				zap.Int64("bytes", expected))
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for attempt := 0; ; attempt++ {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		length := info.Size()
		if length > expected {
			if err := truncate(f, 0); err != nil {
				return err
			}
			length = 0
		}

		e.advanceTo(item.Path, length, expected)
		if length < expected {
			if length > 0 {
				e.logger.Info("Resuming download",
					zap.String("path", item.Path),
					zap.Int64("offset", length),
					zap.Int64("bytes", expected))
			}
			if err := e.fetch(ctx, f, item, length); err != nil {
				return err
			}
		}

		ok, err := matchesMD5(ctx, f, item.MD5)
		if err != nil {
			return err
		}
		if ok {
			break
		}

		e.logger.Warn("Downloaded file failed checksum",
			zap.String("path", item.Path),
			zap.String("url", item.URL),
			zap.Int("attempt", attempt+1))
		if attempt >= e.config.MaxChecksumRetries {
			return fmt.Errorf("%w: %s", domain.ErrChecksumMismatch, item.Path)
		}
		if err := truncate(f, 0); err != nil {
			return err
		}
	}

	if err := f.Close(); err != nil {
		f = nil
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	f = nil

	if item.WriteAsTempFile {
		if err := os.Rename(path, item.Path); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", path, err)
		}
	}

	e.complete(item.Path, expected)
	e.logger.Debug("Download finished",
		zap.String("path", item.Path),
		zap.Int64("bytes", expected))
	return nil
}

// fetch writes the remote bytes from offset to the end of the item into f.
// Transient read failures resume at the current length with backoff.
func (e *Engine) fetch(ctx context.Context, f *os.File, item domain.InstallItem, offset int64) error {
	expected := item.ExpectedLength()
	retry := 0

	for offset < expected {
		body, err := e.deps.Downloader.OpenFrom(ctx, item.URL, offset, item.Range)
		if err != nil {
			if errors.Is(err, domain.ErrRangeNotSatisfiable) && offset > 0 {
				e.logger.Warn("Remote file is shorter than local data, restarting",
					zap.String("path", item.Path),
					zap.Int64("offset", offset))
				if err := truncate(f, 0); err != nil {
					return err
				}
				offset = 0
				continue
			}
			return err
		}

		if body.Offset != offset {
			if err := truncate(f, body.Offset); err != nil {
				body.Body.Close()
				return err
			}
			offset = body.Offset
		}

		n, err := e.copyBody(ctx, f, body, item, offset)
		body.Body.Close()
		offset += n

		if err == nil {
			if offset >= expected {
				return nil
			}
			err = &domain.TransientNetworkError{Op: "read", URL: item.URL, Err: io.ErrUnexpectedEOF}
		}
		if !domain.IsTransient(err) {
			return err
		}

		if n > 0 {
			retry = 0
		}
		retry++
		if retry >= e.config.Retry.MaxAttempts {
			return err
		}
		e.logger.Warn("Download interrupted, resuming",
			zap.String("path", item.Path),
			zap.String("url", item.URL),
			zap.Int64("offset", offset),
			zap.Int("retry", retry),
			zap.Error(err))
		if err := e.config.Retry.Wait(ctx, retry); err != nil {
			return err
		}
	}
	return nil
}

// copyBody streams body into f at offset through the shared rate limiter,
// crediting progress after every chunk
func (e *Engine) copyBody(ctx context.Context, f *os.File, body *domain.RemoteBody, item domain.InstallItem, offset int64) (int64, error) {
	expected := item.ExpectedLength()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek %s: %w", f.Name(), err)
	}

	r := ratelimit.NewReader(ctx, io.LimitReader(body.Body, expected-offset), e.deps.Limiter)
	buf := make([]byte, e.config.BufferSize)

	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write %s: %w", f.Name(), werr)
			}
			written += int64(n)
			e.advanceTo(item.Path, offset+written, expected)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// verify checks an existing file and queues a download when it is missing
// or differs from the manifest
func (e *Engine) verify(ctx context.Context, q *workQueue, item domain.InstallItem) error {
	ok, err := fileMatches(ctx, item.Path, item.ExpectedLength(), item.MD5)
	if err != nil {
		return err
	}
	if ok {
		e.complete(item.Path, item.ExpectedLength())
		return nil
	}

	e.logger.Info("File needs download",
		zap.String("path", item.Path),
		zap.String("url", item.URL))
	e.requeue(q, item.As(domain.ItemDownload))
	return nil
}

// decompress extracts one archive, applies its diff lists and removes the
// volumes
func (e *Engine) decompress(ctx context.Context, item domain.InstallItem) error {
	budget := decompressBudget(item)
	var written int64

	e.logger.Info("Extracting archive",
		zap.String("path", item.Path),
		zap.Int("volumes", len(item.PackageFiles)),
		zap.Int64("bytes", budget))

	_, err := e.deps.Extractor.Extract(ctx, item.PackageFiles, item.TargetPath, func(n int64) {
		written += n
		e.advanceTo(item.Path, written, budget)
	})
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", item.FileName(), err)
	}

	if e.deps.Diff != nil {
		if err := e.deps.Diff.Apply(ctx, item.TargetPath); err != nil {
			return fmt.Errorf("failed to apply diff files: %w", err)
		}
	}

	for _, p := range item.PackageFiles {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove package file", zap.String("path", p), zap.Error(err))
		}
	}

	e.complete(item.Path, budget)
	return nil
}

// hardLink links the destination to the sibling install's copy. Anything
// that goes wrong falls back to verifying the destination.
func (e *Engine) hardLink(ctx context.Context, q *workQueue, item domain.InstallItem) error {
	if !item.HardLinkSkipVerify {
		ok, err := fileMatches(ctx, item.HardLinkSource, item.ExpectedLength(), item.MD5)
		if err != nil || !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Info("Hard link source does not match, verifying instead",
				zap.String("path", item.Path),
				zap.String("source", item.HardLinkSource),
				zap.Error(err))
			e.requeue(q, item.As(domain.ItemVerify))
			return nil
		}
	}

	if err := linkFile(item.HardLinkSource, item.Path); err != nil {
		e.logger.Warn("Hard link failed, verifying instead",
			zap.String("path", item.Path),
			zap.String("source", item.HardLinkSource),
			zap.Error(err))
		e.requeue(q, item.As(domain.ItemVerify))
		return nil
	}

	e.complete(item.Path, item.ExpectedLength())
	return nil
}

func linkFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Link(src, dst)
}

func truncate(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s: %w", f.Name(), err)
	}
	return nil
}

// fileMatches reports whether path exists with the given size and MD5.
// A missing file is a mismatch, not an error.
func fileMatches(ctx context.Context, path string, size int64, sum string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() != size {
		return false, nil
	}
	return matchesMD5(ctx, f, sum)
}

// matchesMD5 hashes f from the start. An empty expected sum always matches.
func matchesMD5(ctx context.Context, f *os.File, sum string) (bool, error) {
	if sum == "" {
		return true, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("failed to seek %s: %w", f.Name(), err)
	}

	h := md5.New()
	buf := make([]byte, hashBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, fmt.Errorf("failed to read %s: %w", f.Name(), err)
		}
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), sum), nil
}

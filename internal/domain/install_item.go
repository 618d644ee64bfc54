package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// InstallItemType identifies which operation a worker performs for an item
type InstallItemType int

const (
	ItemDownload InstallItemType = iota + 1
	ItemVerify
	ItemDecompress
	ItemHardLink
)

// String returns the lowercase name of the item type
func (t InstallItemType) String() string {
	switch t {
	case ItemDownload:
		return "download"
	case ItemVerify:
		return "verify"
	case ItemDecompress:
		return "decompress"
	case ItemHardLink:
		return "hardlink"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the known item types
func (t InstallItemType) Valid() bool {
	return t >= ItemDownload && t <= ItemHardLink
}

// ByteRange is an inclusive byte range of a logical file split across
// several remote parts. The zero value means the whole file.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// IsZero reports whether the range is unset
func (r ByteRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Len returns the number of bytes covered by the range
func (r ByteRange) Len() int64 {
	if r.IsZero() {
		return 0
	}
	return r.End - r.Start + 1
}

// Overlaps reports whether two ranges share any byte
func (r ByteRange) Overlaps(o ByteRange) bool {
	if r.IsZero() || o.IsZero() {
		return false
	}
	return r.Start <= o.End && o.Start <= r.End
}

// InstallItem is one unit of install work. Items are created when a plan is
// built and never modified afterwards; re-enqueueing produces a copy.
type InstallItem struct {
	Type               InstallItemType `json:"type"`
	Path               string          `json:"path"`
	URL                string          `json:"url,omitempty"`
	Size               int64           `json:"size"`
	DecompressedSize   int64           `json:"decompressed_size,omitempty"`
	MD5                string          `json:"md5,omitempty"`
	Range              ByteRange       `json:"range,omitempty"`
	WriteAsTempFile    bool            `json:"write_as_temp_file,omitempty"`
	HardLinkSource     string          `json:"hard_link_source,omitempty"`
	HardLinkSkipVerify bool            `json:"hard_link_skip_verify,omitempty"`

	// Decompress only
	PackageFiles []string `json:"package_files,omitempty"`
	TargetPath   string   `json:"target_path,omitempty"`
}

// As returns a copy of the item with a different type
func (i InstallItem) As(t InstallItemType) InstallItem {
	c := i
	if len(i.PackageFiles) > 0 {
		c.PackageFiles = append([]string(nil), i.PackageFiles...)
	}
	c.Type = t
	return c
}

// WorkingPath returns the file a download writes into
func (i InstallItem) WorkingPath() string {
	if i.WriteAsTempFile {
		return i.Path + "_tmp"
	}
	return i.Path
}

// SafeJoin resolves a slash or backslash separated remote name under root.
// Names that escape root return ErrUnsafePath.
func SafeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	dest := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return dest, nil
}

// FileName returns the base name of the destination
func (i InstallItem) FileName() string {
	return filepath.Base(i.Path)
}

// ExpectedLength returns the number of bytes the destination must hold
func (i InstallItem) ExpectedLength() int64 {
	if n := i.Range.Len(); n > 0 {
		return n
	}
	return i.Size
}

// Validate checks the fields required by the item's type
func (i InstallItem) Validate() error {
	if !i.Type.Valid() {
		return fmt.Errorf("invalid item type: %s", i.Type)
	}
	if i.Path == "" {
		return fmt.Errorf("%s item has no path", i.Type)
	}
	switch i.Type {
	case ItemDownload:
		if i.URL == "" {
			return fmt.Errorf("download item %s has no url", i.Path)
		}
	case ItemVerify:
		if i.MD5 == "" {
			return fmt.Errorf("verify item %s has no md5", i.Path)
		}
	case ItemDecompress:
		if len(i.PackageFiles) == 0 {
			return fmt.Errorf("decompress item %s has no package files", i.Path)
		}
		if i.TargetPath == "" {
			return fmt.Errorf("decompress item %s has no target path", i.Path)
		}
	case ItemHardLink:
		if i.HardLinkSource == "" {
			return fmt.Errorf("hardlink item %s has no source", i.Path)
		}
	}
	return nil
}

// ValidatePlan checks every item, the unique destination invariant, and that
// parts cut from the same remote URL cover disjoint byte ranges.
func ValidatePlan(items []InstallItem) error {
	paths := make(map[string]struct{}, len(items))
	ranges := make(map[string][]ByteRange)
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
		key := filepath.Clean(item.Path)
		if _, dup := paths[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, item.Path)
		}
		paths[key] = struct{}{}

		if item.Range.IsZero() || item.URL == "" {
			continue
		}
		for _, r := range ranges[item.URL] {
			if r.Overlaps(item.Range) {
				return fmt.Errorf("overlapping ranges for %s: %d-%d and %d-%d",
					item.URL, r.Start, r.End, item.Range.Start, item.Range.End)
			}
		}
		ranges[item.URL] = append(ranges[item.URL], item.Range)
	}
	return nil
}

package domain

import (
	"context"
	"io"
)

// PackageDownloader opens remote package content for resumable transfer
type PackageDownloader interface {
	// OpenFrom opens url starting at offset bytes into the item. When the
	// server ignores the range request the returned body starts at 0 and
	// Offset reports it.
	OpenFrom(ctx context.Context, url string, offset int64, r ByteRange) (*RemoteBody, error)
}

// RemoteBody is an open response body positioned at Offset
type RemoteBody struct {
	Body   io.ReadCloser
	Offset int64
	Length int64 // -1 when unknown
}

// ManifestSource fetches manifests from the launcher API
type ManifestSource interface {
	// GetGamePackage returns the package manifest of a title
	GetGamePackage(ctx context.Context, title Title) (*GamePackage, error)

	// GetPkgVersion returns the file list named name under resListURL
	GetPkgVersion(ctx context.Context, resListURL, name string) ([]PkgVersionEntry, error)
}

// PkgVersionEntry is one line of a pkg_version file list
type PkgVersionEntry struct {
	RemoteName string `json:"remoteName"`
	MD5        string `json:"md5"`
	FileSize   int64  `json:"fileSize"`
}

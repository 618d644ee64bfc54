package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// ErrUpToDate is returned by Update when the local version is current
var ErrUpToDate = errors.New("game is already up to date")

// GameFileStore reads and writes the launcher files kept in an install root
type GameFileStore interface {
	ReadVersion(installPath string) (string, error)
	WriteVersion(installPath, version string) error
	ReadAudioLanguages(path string) ([]domain.AudioLanguage, error)
	WriteAudioLanguages(path string, langs []domain.AudioLanguage) error
}

// ResourceKind says which branch entry a selection came from
type ResourceKind string

const (
	ResourceMajor            ResourceKind = "major"
	ResourcePatch            ResourceKind = "patch"
	ResourcePreDownload      ResourceKind = "predownload"
	ResourcePreDownloadPatch ResourceKind = "predownload_patch"
)

// ResourceSelection is the resource set chosen for a title
type ResourceSelection struct {
	Package      *domain.GamePackage
	Resource     *domain.GamePackageResource
	Kind         ResourceKind
	LocalVersion string
	// TargetVersion is the version the install reaches once applied
	TargetVersion string
}

// Resolver picks the resource set a task needs from the title manifest
type Resolver struct {
	manifests   domain.ManifestSource
	files       GameFileStore
	defaultLang domain.AudioLanguage
	logger      *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(manifests domain.ManifestSource, files GameFileStore, defaultLang domain.AudioLanguage, logger *zap.Logger) *Resolver {
	if defaultLang == "" {
		defaultLang = domain.AudioEnglish
	}
	return &Resolver{
		manifests:   manifests,
		files:       files,
		defaultLang: defaultLang,
		logger:      logger,
	}
}

// LocalVersion returns the installed version, empty when nothing is installed
func (r *Resolver) LocalVersion(title domain.Title) (string, error) {
	return r.files.ReadVersion(title.InstallPath)
}

// GetNeedDownloadResource returns what the title needs next: the full
// package when nothing is installed, a patch or the full package when the
// install is behind, the pre-download when it is current, or nil when there
// is nothing to fetch.
func (r *Resolver) GetNeedDownloadResource(ctx context.Context, title domain.Title) (*ResourceSelection, error) {
	pkg, err := r.manifests.GetGamePackage(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to get game package: %w", err)
	}
	if pkg.Main.Major == nil {
		return nil, fmt.Errorf("%w: %s has no major resource", domain.ErrUnsupportedOperation, title.ID)
	}

	local, err := r.LocalVersion(title)
	if err != nil {
		return nil, err
	}
	latest := pkg.Main.Major.Version

	if local == "" {
		return &ResourceSelection{Package: pkg, Resource: pkg.Main.Major, Kind: ResourceMajor, TargetVersion: latest}, nil
	}

	if versionLess(local, latest) {
		sel := &ResourceSelection{Package: pkg, LocalVersion: local, TargetVersion: latest}
		if patch, ok := pkg.Main.PatchFrom(local); ok {
			sel.Resource, sel.Kind = patch, ResourcePatch
		} else {
			sel.Resource, sel.Kind = pkg.Main.Major, ResourceMajor
		}
		return sel, nil
	}

	if sel := preDownloadSelection(pkg, local); sel != nil {
		return sel, nil
	}
	return nil, nil
}

// ResourceFor returns the resource set an Install, Update or PreDownload
// task downloads
func (r *Resolver) ResourceFor(ctx context.Context, title domain.Title, task domain.InstallTask) (*ResourceSelection, error) {
	pkg, err := r.manifests.GetGamePackage(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to get game package: %w", err)
	}
	local, err := r.LocalVersion(title)
	if err != nil {
		return nil, err
	}

	switch task {
	case domain.TaskInstall, domain.TaskRepair, domain.TaskHardLink:
		if pkg.Main.Major == nil {
			return nil, fmt.Errorf("%w: %s has no major resource", domain.ErrUnsupportedOperation, title.ID)
		}
		return &ResourceSelection{
			Package:       pkg,
			Resource:      pkg.Main.Major,
			Kind:          ResourceMajor,
			LocalVersion:  local,
			TargetVersion: pkg.Main.Major.Version,
		}, nil

	case domain.TaskUpdate:
		if pkg.Main.Major == nil {
			return nil, fmt.Errorf("%w: %s has no major resource", domain.ErrUnsupportedOperation, title.ID)
		}
		latest := pkg.Main.Major.Version
		if local == "" {
			return nil, fmt.Errorf("%w: %s is not installed", domain.ErrNotFound, title.ID)
		}
		if !versionLess(local, latest) {
			return nil, fmt.Errorf("%w: %s", ErrUpToDate, local)
		}
		sel := &ResourceSelection{Package: pkg, LocalVersion: local, TargetVersion: latest}
		if patch, ok := pkg.Main.PatchFrom(local); ok {
			sel.Resource, sel.Kind = patch, ResourcePatch
		} else {
			sel.Resource, sel.Kind = pkg.Main.Major, ResourceMajor
		}
		return sel, nil

	case domain.TaskPreDownload:
		sel := preDownloadSelection(pkg, local)
		if sel == nil {
			return nil, fmt.Errorf("%w: %s has no pre-download", domain.ErrUnsupportedOperation, title.ID)
		}
		return sel, nil

	default:
		return nil, fmt.Errorf("invalid install task: %q", task)
	}
}

func preDownloadSelection(pkg *domain.GamePackage, local string) *ResourceSelection {
	pre := pkg.PreDownload
	if pre == nil {
		return nil
	}
	sel := &ResourceSelection{Package: pkg, LocalVersion: local}
	if pre.Major != nil {
		sel.TargetVersion = pre.Major.Version
	}
	if patch, ok := pre.PatchFrom(local); ok {
		sel.Resource, sel.Kind = patch, ResourcePreDownloadPatch
		return sel
	}
	if pre.Major == nil {
		return nil
	}
	sel.Resource, sel.Kind = pre.Major, ResourcePreDownload
	return sel
}

// CheckPreDownloadComplete reports whether every pre-download package for
// the selected languages is already staged in the install root
func (r *Resolver) CheckPreDownloadComplete(ctx context.Context, title domain.Title) (bool, error) {
	pkg, err := r.manifests.GetGamePackage(ctx, title)
	if err != nil {
		return false, fmt.Errorf("failed to get game package: %w", err)
	}
	local, err := r.LocalVersion(title)
	if err != nil {
		return false, err
	}
	sel := preDownloadSelection(pkg, local)
	if sel == nil {
		return false, fmt.Errorf("%w: %s has no pre-download", domain.ErrUnsupportedOperation, title.ID)
	}

	langs, err := r.AudioLanguages(title)
	if err != nil {
		return false, err
	}
	for _, f := range sel.Resource.FilesFor(langs) {
		if _, err := os.Stat(filepath.Join(title.InstallPath, urlBase(f.URL))); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// AudioLanguages returns the voice-over languages recorded in the title's
// scan file. When none are recorded the default language is written and
// returned.
func (r *Resolver) AudioLanguages(title domain.Title) ([]domain.AudioLanguage, error) {
	scanFile := audioScanPath(title)
	if scanFile == "" {
		return []domain.AudioLanguage{r.defaultLang}, nil
	}

	langs, err := r.files.ReadAudioLanguages(scanFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio languages: %w", err)
	}
	if len(langs) > 0 {
		return langs, nil
	}

	langs = []domain.AudioLanguage{r.defaultLang}
	if err := r.files.WriteAudioLanguages(scanFile, langs); err != nil {
		return nil, fmt.Errorf("failed to write audio languages: %w", err)
	}
	r.logger.Info("Audio language defaulted",
		zap.String("title", title.ID),
		zap.String("language", string(r.defaultLang)))
	return langs, nil
}

// GetPkgVersionItems turns one pkg_version list into Verify items under the
// install root
func (r *Resolver) GetPkgVersionItems(ctx context.Context, title domain.Title, resListURL, name string) ([]domain.InstallItem, error) {
	entries, err := r.manifests.GetPkgVersion(ctx, resListURL, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}

	base := strings.TrimRight(resListURL, "/")
	items := make([]domain.InstallItem, 0, len(entries))
	for _, e := range entries {
		path, err := domain.SafeJoin(title.InstallPath, e.RemoteName)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry: %w", name, err)
		}
		items = append(items, domain.InstallItem{
			Type:            domain.ItemVerify,
			Path:            path,
			URL:             base + "/" + strings.TrimLeft(e.RemoteName, "/"),
			Size:            e.FileSize,
			MD5:             e.MD5,
			WriteAsTempFile: true,
		})
	}
	return items, nil
}

func audioScanPath(title domain.Title) string {
	if title.AudioScanFile == "" {
		return ""
	}
	if filepath.IsAbs(title.AudioScanFile) {
		return title.AudioScanFile
	}
	return filepath.Join(title.InstallPath, filepath.FromSlash(title.AudioScanFile))
}

// versionLess compares dotted versions, falling back to inequality for
// strings go-version cannot parse
func versionLess(local, latest string) bool {
	lv, err1 := goversion.NewVersion(local)
	rv, err2 := goversion.NewVersion(latest)
	if err1 != nil || err2 != nil {
		return local != latest
	}
	return lv.LessThan(rv)
}

// urlBase returns the last path element of a package URL
func urlBase(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return path.Base(u)
}

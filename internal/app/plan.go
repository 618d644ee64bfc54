package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// pkgVersionFile lists every game file of a release under its res_list_url
const pkgVersionFile = "pkg_version"

var volumeSuffix = regexp.MustCompile(`\.\d{3}$`)

// VolumeInspector answers filesystem questions about install roots
type VolumeInspector interface {
	FreeSpace(path string) (uint64, error)
	SameVolume(a, b string) (bool, error)
}

// Plan is the immutable work of one engine run. Items is the primary queue,
// Decompress runs after it drains.
type Plan struct {
	Title      domain.Title
	Task       domain.InstallTask
	Version    string
	Items      []domain.InstallItem
	Decompress []domain.InstallItem
}

// Validate checks both phase queues
func (p *Plan) Validate() error {
	if err := domain.ValidatePlan(p.Items); err != nil {
		return err
	}
	return domain.ValidatePlan(p.Decompress)
}

// PlanRequest asks for the work of one task
type PlanRequest struct {
	Title domain.Title
	Task  domain.InstallTask
	// LinkTitle is the sibling install a HardLink task links from
	LinkTitle *domain.Title
}

// Planner expands resolved resources into install plans
type Planner struct {
	resolver *Resolver
	volumes  VolumeInspector
	logger   *zap.Logger
}

// NewPlanner creates a planner
func NewPlanner(resolver *Resolver, volumes VolumeInspector, logger *zap.Logger) *Planner {
	return &Planner{
		resolver: resolver,
		volumes:  volumes,
		logger:   logger,
	}
}

// Build resolves the title manifest and builds the plan for req.Task
func (p *Planner) Build(ctx context.Context, req PlanRequest) (*Plan, error) {
	var (
		plan *Plan
		err  error
	)
	switch req.Task {
	case domain.TaskInstall, domain.TaskUpdate, domain.TaskPreDownload:
		plan, err = p.buildDownload(ctx, req)
	case domain.TaskRepair:
		plan, err = p.buildRepair(ctx, req)
	case domain.TaskHardLink:
		plan, err = p.buildHardLink(ctx, req)
	default:
		return nil, fmt.Errorf("invalid install task: %q", req.Task)
	}
	if err != nil {
		return nil, err
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	p.logger.Info("Install plan built",
		zap.String("title", req.Title.ID),
		zap.String("task", string(req.Task)),
		zap.String("version", plan.Version),
		zap.Int("items", len(plan.Items)),
		zap.Int("decompress", len(plan.Decompress)))
	return plan, nil
}

func (p *Planner) buildDownload(ctx context.Context, req PlanRequest) (*Plan, error) {
	if req.Task == domain.TaskUpdate {
		if err := MoveAudioAssets(req.Title); err != nil {
			return nil, err
		}
	}

	sel, err := p.resolver.ResourceFor(ctx, req.Title, req.Task)
	if err != nil {
		return nil, err
	}
	langs, err := p.resolver.AudioLanguages(req.Title)
	if err != nil {
		return nil, err
	}

	files := sel.Resource.FilesFor(langs)
	plan := &Plan{
		Title:   req.Title,
		Task:    req.Task,
		Version: sel.TargetVersion,
		Items:   DownloadItems(req.Title.InstallPath, files),
	}
	// pre-downloads stay staged until the release goes live
	if req.Task != domain.TaskPreDownload {
		plan.Decompress = DecompressItems(req.Title.InstallPath, files)
	}
	return plan, nil
}

func (p *Planner) buildRepair(ctx context.Context, req PlanRequest) (*Plan, error) {
	if _, err := os.Stat(req.Title.InstallPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: install path %s", domain.ErrNotFound, req.Title.InstallPath)
		}
		return nil, err
	}
	if err := MoveAudioAssets(req.Title); err != nil {
		return nil, err
	}

	sel, items, err := p.verifyItems(ctx, req.Title, domain.TaskRepair)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Title:   req.Title,
		Task:    req.Task,
		Version: sel.TargetVersion,
		Items:   items,
	}, nil
}

// verifyItems collects the Verify items of the game list and every selected
// audio list for a title
func (p *Planner) verifyItems(ctx context.Context, title domain.Title, task domain.InstallTask) (*ResourceSelection, []domain.InstallItem, error) {
	sel, err := p.resolver.ResourceFor(ctx, title, task)
	if err != nil {
		return nil, nil, err
	}
	resList := sel.Resource.ResListURL
	if resList == "" {
		return nil, nil, fmt.Errorf("%w: %s has no file list", domain.ErrUnsupportedOperation, title.ID)
	}

	items, err := p.resolver.GetPkgVersionItems(ctx, title, resList, pkgVersionFile)
	if err != nil {
		return nil, nil, err
	}

	langs, err := p.resolver.AudioLanguages(title)
	if err != nil {
		return nil, nil, err
	}
	for _, lang := range langs {
		audio, err := p.resolver.GetPkgVersionItems(ctx, title, resList, lang.PkgVersionName())
		if err != nil {
			return nil, nil, err
		}
		items = append(items, audio...)
	}
	return sel, dedupeItems(items), nil
}

func (p *Planner) buildHardLink(ctx context.Context, req PlanRequest) (*Plan, error) {
	if req.LinkTitle == nil {
		return nil, fmt.Errorf("%w: hard link needs a source title", domain.ErrUnsupportedOperation)
	}
	link := *req.LinkTitle

	info, err := os.Stat(link.InstallPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: link install path %s", domain.ErrNotFound, link.InstallPath)
	}
	if err := os.MkdirAll(req.Title.InstallPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create install path: %w", err)
	}
	same, err := p.volumes.SameVolume(req.Title.InstallPath, link.InstallPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compare volumes: %w", err)
	}
	if !same {
		return nil, fmt.Errorf("%w: %s and %s are on different volumes",
			domain.ErrUnsupportedOperation, req.Title.InstallPath, link.InstallPath)
	}

	sel, items, err := p.verifyItems(ctx, req.Title, domain.TaskHardLink)
	if err != nil {
		return nil, err
	}
	_, linkItems, err := p.verifyItems(ctx, link, domain.TaskHardLink)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Title:   req.Title,
		Task:    req.Task,
		Version: sel.TargetVersion,
		Items:   HardLinkDiff(req.Title, link, items, linkItems),
	}
	return plan, nil
}

// DownloadItems creates one Download item per package file, staged in the
// install root under the file's URL name
func DownloadItems(installPath string, files []domain.GamePackageFile) []domain.InstallItem {
	items := make([]domain.InstallItem, 0, len(files))
	for _, f := range files {
		items = append(items, domain.InstallItem{
			Type:             domain.ItemDownload,
			Path:             filepath.Join(installPath, urlBase(f.URL)),
			URL:              f.URL,
			Size:             f.Size,
			DecompressedSize: f.DecompressedSize,
			MD5:              f.MD5,
			WriteAsTempFile:  true,
		})
	}
	return items
}

// DecompressItems groups package files into archives. Split volumes named
// <archive>.001, <archive>.002 form one item.
func DecompressItems(installPath string, files []domain.GamePackageFile) []domain.InstallItem {
	var order []string
	groups := make(map[string]*domain.InstallItem)
	for _, f := range files {
		name := urlBase(f.URL)
		key := volumeSuffix.ReplaceAllString(name, "")
		item, ok := groups[key]
		if !ok {
			item = &domain.InstallItem{
				Type:       domain.ItemDecompress,
				Path:       filepath.Join(installPath, key),
				TargetPath: installPath,
			}
			groups[key] = item
			order = append(order, key)
		}
		item.PackageFiles = append(item.PackageFiles, filepath.Join(installPath, name))
		item.Size += f.Size
		item.DecompressedSize += f.DecompressedSize
	}

	items := make([]domain.InstallItem, 0, len(order))
	for _, key := range order {
		item := groups[key]
		sort.Strings(item.PackageFiles)
		items = append(items, *item)
	}
	return items
}

// HardLinkDiff turns the files shared by both installs into HardLink items
// sourced from link and leaves the rest as Verify. Both lists carry paths
// under title's install root.
func HardLinkDiff(title, link domain.Title, items, linkItems []domain.InstallItem) []domain.InstallItem {
	type fileKey struct {
		rel string
		md5 string
	}

	shared := make(map[fileKey]struct{}, len(linkItems))
	for _, li := range linkItems {
		rel, err := filepath.Rel(link.InstallPath, li.Path)
		if err != nil {
			continue
		}
		rel = translateDataDir(rel, link.DataDir, title.DataDir)
		shared[fileKey{rel: rel, md5: strings.ToLower(li.MD5)}] = struct{}{}
	}

	out := make([]domain.InstallItem, 0, len(items))
	for _, item := range items {
		rel, err := filepath.Rel(title.InstallPath, item.Path)
		if err != nil {
			out = append(out, item)
			continue
		}
		if _, ok := shared[fileKey{rel: rel, md5: strings.ToLower(item.MD5)}]; !ok {
			out = append(out, item)
			continue
		}
		linked := item.As(domain.ItemHardLink)
		linked.HardLinkSource = filepath.Join(link.InstallPath, translateDataDir(rel, title.DataDir, link.DataDir))
		out = append(out, linked)
	}
	return out
}

// translateDataDir renames the leading data directory of a relative path
func translateDataDir(rel, from, to string) string {
	if from == "" || to == "" || from == to {
		return rel
	}
	first, rest, found := strings.Cut(rel, string(filepath.Separator))
	if first != from {
		return rel
	}
	if !found {
		return to
	}
	return filepath.Join(to, rest)
}

// dedupeItems drops later items that repeat an earlier destination
func dedupeItems(items []domain.InstallItem) []domain.InstallItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		key := filepath.Clean(item.Path)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// MoveAudioAssets moves voice packs left in the persistent data folder by
// older clients into StreamingAssets, replacing existing files
func MoveAudioAssets(title domain.Title) error {
	if title.DataDir == "" {
		return nil
	}
	dataDir := filepath.Join(title.InstallPath, title.DataDir)
	src := filepath.Join(dataDir, "Persistent", "AudioAssets")
	dst := filepath.Join(dataDir, "StreamingAssets", "AudioAssets")

	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Rename(p, target)
	})
	if err != nil {
		return fmt.Errorf("failed to move audio assets: %w", err)
	}
	return os.RemoveAll(src)
}

package infrastructure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// ManifestClient implements domain.ManifestSource over the launcher API
type ManifestClient struct {
	cdn    *CDNClient
	logger *zap.Logger
}

// NewManifestClient creates a manifest client sharing the CDN transport
func NewManifestClient(cdn *CDNClient, logger *zap.Logger) *ManifestClient {
	return &ManifestClient{cdn: cdn, logger: logger}
}

type manifestEnvelope struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    struct {
		GamePackages []wireGamePackage `json:"game_packages"`
	} `json:"data"`
}

type wireGamePackage struct {
	Game struct {
		ID  string `json:"id"`
		Biz string `json:"biz"`
	} `json:"game"`
	Main        wireBranch  `json:"main"`
	PreDownload *wireBranch `json:"pre_download"`
}

type wireBranch struct {
	Major   *wireResource  `json:"major"`
	Patches []wireResource `json:"patches"`
}

type wireResource struct {
	Version    string     `json:"version"`
	GamePkgs   []wireFile `json:"game_pkgs"`
	AudioPkgs  []wireFile `json:"audio_pkgs"`
	ResListURL string     `json:"res_list_url"`
}

type wireFile struct {
	URL              string    `json:"url"`
	MD5              string    `json:"md5"`
	Size             flexInt64 `json:"size"`
	DecompressedSize flexInt64 `json:"decompressed_size"`
	Language         string    `json:"language"`
}

// flexInt64 accepts sizes encoded either as numbers or as strings
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s: %w", data, err)
	}
	*f = flexInt64(n)
	return nil
}

// GetGamePackage fetches and decodes the package manifest of a title
func (c *ManifestClient) GetGamePackage(ctx context.Context, title domain.Title) (*domain.GamePackage, error) {
	if title.ManifestURL == "" {
		return nil, fmt.Errorf("%w: title %s has no manifest url", domain.ErrUnsupportedOperation, title.ID)
	}

	data, err := c.cdn.GetBytes(ctx, title.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	return ParseGamePackage(data, title.ID)
}

// ParseGamePackage decodes a manifest document. The entry whose biz or id
// equals titleID is selected, falling back to the first entry.
func ParseGamePackage(data []byte, titleID string) (*domain.GamePackage, error) {
	var env manifestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if env.Retcode != 0 {
		return nil, fmt.Errorf("manifest api returned %d: %s", env.Retcode, env.Message)
	}
	if len(env.Data.GamePackages) == 0 {
		return nil, fmt.Errorf("%w: manifest has no game packages", domain.ErrUnsupportedOperation)
	}

	selected := &env.Data.GamePackages[0]
	for i := range env.Data.GamePackages {
		g := &env.Data.GamePackages[i]
		if g.Game.Biz == titleID || g.Game.ID == titleID {
			selected = g
			break
		}
	}

	pkg := &domain.GamePackage{
		Title: titleID,
		Main:  selected.Main.toDomain(),
	}
	if selected.PreDownload != nil {
		pre := selected.PreDownload.toDomain()
		if pre.Major != nil || len(pre.Patches) > 0 {
			pkg.PreDownload = &pre
		}
	}
	return pkg, nil
}

func (b wireBranch) toDomain() domain.PackageBranch {
	var branch domain.PackageBranch
	if b.Major != nil && b.Major.Version != "" {
		major := b.Major.toDomain()
		branch.Major = &major
	}
	for _, p := range b.Patches {
		branch.Patches = append(branch.Patches, p.toDomain())
	}
	return branch
}

func (r wireResource) toDomain() domain.GamePackageResource {
	res := domain.GamePackageResource{
		Version:    r.Version,
		ResListURL: r.ResListURL,
	}
	for _, f := range r.GamePkgs {
		res.GamePackages = append(res.GamePackages, f.toDomain())
	}
	for _, f := range r.AudioPkgs {
		res.AudioPackages = append(res.AudioPackages, f.toDomain())
	}
	return res
}

func (f wireFile) toDomain() domain.GamePackageFile {
	return domain.GamePackageFile{
		URL:              f.URL,
		MD5:              f.MD5,
		Size:             int64(f.Size),
		DecompressedSize: int64(f.DecompressedSize),
		Language:         f.Language,
	}
}

// GetPkgVersion fetches a pkg_version file list from resListURL
func (c *ManifestClient) GetPkgVersion(ctx context.Context, resListURL, name string) ([]domain.PkgVersionEntry, error) {
	if resListURL == "" {
		return nil, fmt.Errorf("%w: no resource list url", domain.ErrUnsupportedOperation)
	}

	url := strings.TrimSuffix(resListURL, "/") + "/" + name
	data, err := c.cdn.GetBytes(ctx, url)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("pkg_version %s: %w", name, err)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}

	entries, err := ParsePkgVersion(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched pkg_version",
		zap.String("name", name),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// ParsePkgVersion decodes JSON lines of {remoteName, md5, fileSize}.
// Blank lines are skipped.
func ParsePkgVersion(data []byte) ([]domain.PkgVersionEntry, error) {
	var entries []domain.PkgVersionEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e struct {
			RemoteName string    `json:"remoteName"`
			MD5        string    `json:"md5"`
			FileSize   flexInt64 `json:"fileSize"`
		}
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("invalid pkg_version line %d: %w", lineNo, err)
		}
		if e.RemoteName == "" {
			return nil, fmt.Errorf("invalid pkg_version line %d: missing remoteName", lineNo)
		}
		entries = append(entries, domain.PkgVersionEntry{
			RemoteName: e.RemoteName,
			MD5:        e.MD5,
			FileSize:   int64(e.FileSize),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pkg_version: %w", err)
	}
	return entries, nil
}

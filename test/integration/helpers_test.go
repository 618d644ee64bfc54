//go:build integration

package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/api"
	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

const titleID = "hk4e_global"

// fakeCDN serves a manifest, one full package and the loose files of a
// resource list
type fakeCDN struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string][]byte
	hits  map[string]int
}

func newFakeCDN(t *testing.T, version string, content map[string][]byte) *fakeCDN {
	t.Helper()
	cdn := &fakeCDN{files: make(map[string][]byte), hits: make(map[string]int)}
	cdn.Server = httptest.NewServer(http.HandlerFunc(cdn.serve))
	t.Cleanup(cdn.Close)

	archive := buildZip(t, content)
	pkgPath := "/pkg/GenshinImpact_" + version + ".zip"
	cdn.files[pkgPath] = archive

	var lines []string
	var unpacked int64
	for name, data := range content {
		cdn.files["/res/"+name] = data
		lines = append(lines, fmt.Sprintf(`{"remoteName":%q,"md5":%q,"fileSize":%d}`, name, md5Hex(data), len(data)))
		unpacked += int64(len(data))
	}
	cdn.files["/res/pkg_version"] = []byte(strings.Join(lines, "\n"))
	cdn.files["/res/"+domain.AudioEnglish.PkgVersionName()] = []byte{}

	manifest := map[string]interface{}{
		"retcode": 0,
		"message": "OK",
		"data": map[string]interface{}{
			"game_packages": []interface{}{map[string]interface{}{
				"game": map[string]string{"id": "1Z8W5NHUQb", "biz": titleID},
				"main": map[string]interface{}{
					"major": map[string]interface{}{
						"version": version,
						"game_pkgs": []interface{}{map[string]interface{}{
							"url":               cdn.URL + pkgPath,
							"md5":               md5Hex(archive),
							"size":              fmt.Sprint(len(archive)),
							"decompressed_size": fmt.Sprint(unpacked),
						}},
						"audio_pkgs":   []interface{}{},
						"res_list_url": cdn.URL + "/res",
					},
					"patches": []interface{}{},
				},
				"pre_download": map[string]interface{}{"major": nil, "patches": []interface{}{}},
			}},
		},
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	cdn.files["/manifest"] = data
	return cdn
}

func (c *fakeCDN) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	data, ok := c.files[r.URL.Path]
	c.hits[r.URL.Path]++
	c.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(data))
}

func (c *fakeCDN) hitCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

// stack is a running server backed by the fake CDN and a sqlite history
type stack struct {
	server *httptest.Server
	reg    *app.Registry
	title  domain.Title
}

func newStack(t *testing.T, cdn *fakeCDN) *stack {
	t.Helper()
	dir := t.TempDir()
	title := domain.Title{
		ID:          titleID,
		Name:        "Genshin Impact",
		ManifestURL: cdn.URL + "/manifest",
		InstallPath: filepath.Join(dir, "Genshin Impact Game"),
		DataDir:     "GenshinImpact_Data",
		Region:      domain.RegionGlobal,
	}

	cfg := domain.DefaultConfig()
	cfg.Titles = []domain.Title{title}
	cfg.Install.BufferSize = 4096
	cfg.Progress.Interval = 10 * time.Millisecond
	cfg.HTTP.RetryBackoff = time.Millisecond
	cfg.HTTP.RetryMaxBackoff = 5 * time.Millisecond
	cfg.Notification.Enabled = false

	repo, err := infrastructure.NewSQLiteInstallRecordRepository(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	log := zap.NewNop()
	client := infrastructure.NewCDNClient(&cfg.HTTP, log)
	files := infrastructure.NewGameFiles()
	volumes := infrastructure.NewLocalVolumes()
	resolver := app.NewResolver(infrastructure.NewManifestClient(client, log), files, domain.AudioEnglish, log)
	planner := app.NewPlanner(resolver, volumes, log)
	deps := app.EngineDeps{
		Downloader: client,
		Extractor:  infrastructure.ArchiveExtractor{},
		Diff:       infrastructure.NewDiffApplier(cfg.Install.HPatchBinary, log),
		Volumes:    volumes,
		Files:      files,
	}
	notifier := infrastructure.NewNotificationService(&cfg.Notification, log)

	reg := app.NewRegistry(cfg, planner, resolver, deps, repo, notifier, log, nil)
	router := api.SetupRouter(reg, logger.NewSingleLoggerAdapter(log), dir, 10*time.Millisecond)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &stack{server: server, reg: reg, title: title}
}

func (s *stack) do(t *testing.T, method, path string, payload interface{}, out interface{}) int {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// waitIdle polls until the title has no running install
func (s *stack) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.do(t, http.MethodGet, "/api/v1/installs/"+titleID, nil, nil) == http.StatusNotFound
	}, 10*time.Second, 20*time.Millisecond)
}

func buildZip(t *testing.T, content map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range content {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) ^ seed
	}
	return b
}

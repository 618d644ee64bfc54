package app

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
)

const mib = 1 << 20

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type openCall struct {
	url    string
	offset int64
}

// fakeDownloader serves in-memory files with range semantics
type fakeDownloader struct {
	mu          sync.Mutex
	files       map[string][]byte
	opens       []openCall
	transferred int64
	ignoreRange bool
	block       bool
	failAfter   map[string]int64
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		files:     make(map[string][]byte),
		failAfter: make(map[string]int64),
	}
}

func (d *fakeDownloader) serve(url string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[url] = data
}

func (d *fakeDownloader) OpenFrom(ctx context.Context, url string, offset int64, r domain.ByteRange) (*domain.RemoteBody, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens = append(d.opens, openCall{url: url, offset: offset})

	data, ok := d.files[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, url)
	}
	if !r.IsZero() {
		data = data[r.Start : r.End+1]
	}
	if d.block {
		return &domain.RemoteBody{Body: blockingBody{ctx: ctx}, Offset: offset, Length: -1}, nil
	}

	bodyOffset := offset
	if d.ignoreRange {
		bodyOffset = 0
	}
	if bodyOffset > int64(len(data)) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRangeNotSatisfiable, url)
	}
	rest := data[bodyOffset:]

	var body io.ReadCloser = &countingBody{r: bytes.NewReader(rest), d: d}
	if n, ok := d.failAfter[url]; ok {
		delete(d.failAfter, url)
		body = &failingBody{r: bytes.NewReader(rest[:n]), d: d, url: url}
	}
	return &domain.RemoteBody{Body: body, Offset: bodyOffset, Length: int64(len(rest))}, nil
}

func (d *fakeDownloader) calls() []openCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]openCall(nil), d.opens...)
}

func (d *fakeDownloader) bytesSent() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transferred
}

func (d *fakeDownloader) count(n int) {
	d.mu.Lock()
	d.transferred += int64(n)
	d.mu.Unlock()
}

type countingBody struct {
	r *bytes.Reader
	d *fakeDownloader
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.d.count(n)
	return n, err
}

func (b *countingBody) Close() error { return nil }

// failingBody delivers its bytes and then a transient read error
type failingBody struct {
	r   *bytes.Reader
	d   *fakeDownloader
	url string
}

func (b *failingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.d.count(n)
	if err == io.EOF {
		return n, &domain.TransientNetworkError{Op: "read", URL: b.url, Err: io.ErrUnexpectedEOF}
	}
	return n, err
}

func (b *failingBody) Close() error { return nil }

type blockingBody struct {
	ctx context.Context
}

func (b blockingBody) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b blockingBody) Close() error { return nil }

// fakeManifests serves a fixed package and pkg_version lists
type fakeManifests struct {
	mu          sync.Mutex
	packages    map[string]*domain.GamePackage
	pkgVersions map[string][]domain.PkgVersionEntry
	fetches     int
}

func newFakeManifests() *fakeManifests {
	return &fakeManifests{
		packages:    make(map[string]*domain.GamePackage),
		pkgVersions: make(map[string][]domain.PkgVersionEntry),
	}
}

func (m *fakeManifests) GetGamePackage(ctx context.Context, title domain.Title) (*domain.GamePackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	pkg, ok := m.packages[title.ID]
	if !ok {
		return nil, fmt.Errorf("%w: no package for %s", domain.ErrUnsupportedOperation, title.ID)
	}
	return pkg, nil
}

func (m *fakeManifests) GetPkgVersion(ctx context.Context, resListURL, name string) ([]domain.PkgVersionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.pkgVersions[resListURL+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, resListURL, name)
	}
	return entries, nil
}

type fakeVolumes struct {
	free    uint64
	same    bool
	freeErr error
}

func (v *fakeVolumes) FreeSpace(path string) (uint64, error) {
	return v.free, v.freeErr
}

func (v *fakeVolumes) SameVolume(a, b string) (bool, error) {
	return v.same, nil
}

// memoryRepo is an in-memory InstallRecordRepository
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]domain.InstallRecord
	updated chan string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: make(map[string]domain.InstallRecord),
		updated: make(chan string, 16),
	}
}

func (r *memoryRepo) Create(record *domain.InstallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = *record
	return nil
}

func (r *memoryRepo) Update(record *domain.InstallRecord) error {
	r.mu.Lock()
	r.records[record.ID] = *record
	r.mu.Unlock()
	select {
	case r.updated <- record.ID:
	default:
	}
	return nil
}

func (r *memoryRepo) FindByID(id string) (*domain.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) FindByTitle(title string, limit int) ([]*domain.InstallRecord, error) {
	return r.FindAll(map[string]interface{}{"title": title})
}

func (r *memoryRepo) FindAll(filters map[string]interface{}) ([]*domain.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InstallRecord
	for _, rec := range r.records {
		if t, ok := filters["title"]; ok && rec.Title != t {
			continue
		}
		rec := rec
		out = append(out, &rec)
	}
	return out, nil
}

func (r *memoryRepo) MarkInterrupted() (int64, error) { return 0, nil }

func (r *memoryRepo) GetStats() (*domain.InstallStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.InstallStats{Total: int64(len(r.records))}
	for _, rec := range r.records {
		switch rec.Status {
		case domain.RecordRunning:
			stats.Running++
		case domain.RecordFinished:
			stats.Finished++
		case domain.RecordFailed:
			stats.Failed++
		case domain.RecordCanceled:
			stats.Canceled++
		}
	}
	return stats, nil
}

type notification struct {
	kind  string
	title string
	err   error
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) add(v notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, v)
}

func (n *fakeNotifier) NotifyInstallStarted(title string, task domain.InstallTask) {
	n.add(notification{kind: "started", title: title})
}

func (n *fakeNotifier) NotifyInstallFinished(title string, task domain.InstallTask) {
	n.add(notification{kind: "finished", title: title})
}

func (n *fakeNotifier) NotifyInstallFailed(title string, task domain.InstallTask, err error) {
	n.add(notification{kind: "failed", title: title, err: err})
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func testRetryPolicy() infrastructure.RetryPolicy {
	return infrastructure.RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:            4,
		BufferSize:         4096,
		MaxChecksumRetries: 2,
		CheckDiskSpace:     true,
		Retry:              testRetryPolicy(),
	}
}

func testDeps(dl domain.PackageDownloader) EngineDeps {
	return EngineDeps{
		Downloader: dl,
		Extractor:  infrastructure.ArchiveExtractor{},
		Files:      infrastructure.NewGameFiles(),
		Volumes:    &fakeVolumes{free: 1 << 40, same: true},
	}
}

func testTitle(t *testing.T) domain.Title {
	t.Helper()
	return domain.Title{
		ID:            "hk4e_global",
		Name:          "Genshin Impact",
		InstallPath:   filepath.Join(t.TempDir(), "Genshin Impact Game"),
		DataDir:       "GenshinImpact_Data",
		AudioScanFile: "GenshinImpact_Data/Persistent/audio_lang_14",
		Region:        domain.RegionGlobal,
	}
}

// runEngine starts e and waits for it to end
func runEngine(t *testing.T, e *Engine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Start(ctx); err != nil {
		return err
	}
	return e.Wait(ctx)
}

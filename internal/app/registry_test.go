package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
)

type registryFixture struct {
	reg      *Registry
	repo     *memoryRepo
	notifier *fakeNotifier
	dl       *fakeDownloader
	title    domain.Title
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	title := testTitle(t)

	cfg := domain.DefaultConfig()
	cfg.Titles = []domain.Title{title}
	cfg.Install.BufferSize = 4096
	cfg.Progress.Interval = 10 * time.Millisecond
	cfg.HTTP.RetryBackoff = time.Millisecond
	cfg.HTTP.RetryMaxBackoff = 5 * time.Millisecond

	content := map[string][]byte{
		"GenshinImpact.exe":             pattern(3000, 1),
		"GenshinImpact_Data/data.unity": pattern(5000, 2),
	}
	archive := buildZip(t, content)
	url := "https://cdn.example.com/GenshinImpact_5.0.0.zip"

	dl := newFakeDownloader()
	dl.serve(url, archive)

	major := domain.GamePackageResource{
		Version: "5.0.0",
		GamePackages: []domain.GamePackageFile{{
			URL:              url,
			MD5:              md5Hex(archive),
			Size:             int64(len(archive)),
			DecompressedSize: 8000,
		}},
	}
	m := newFakeManifests()
	m.packages[title.ID] = &domain.GamePackage{Title: title.ID, Main: domain.PackageBranch{Major: &major}}

	resolver := NewResolver(m, infrastructure.NewGameFiles(), domain.AudioEnglish, zap.NewNop())
	planner := NewPlanner(resolver, &fakeVolumes{same: true}, zap.NewNop())
	repo := newMemoryRepo()
	notifier := &fakeNotifier{}

	reg := NewRegistry(cfg, planner, resolver, testDeps(dl), repo, notifier, zap.NewNop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	return &registryFixture{reg: reg, repo: repo, notifier: notifier, dl: dl, title: title}
}

func waitRegistryEvent(t *testing.T, ch <-chan RegistryEvent, want RegistryEventType) RegistryEvent {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestRegistry_InstallRecordsOutcome(t *testing.T) {
	f := newRegistryFixture(t)
	events, unsubscribe := f.reg.Subscribe(8)
	defer unsubscribe()

	_, err := f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskInstall})
	require.NoError(t, err)

	added := waitRegistryEvent(t, events, InstallTaskAdded)
	assert.Equal(t, f.title.ID, added.Title)

	removed := waitRegistryEvent(t, events, InstallTaskRemoved)
	assert.Equal(t, domain.RecordFinished, removed.Status)
	assert.Empty(t, removed.Error)

	_, running := f.reg.Get(f.title.ID)
	assert.False(t, running)

	records, err := f.reg.History(map[string]interface{}{"title": f.title.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordFinished, records[0].Status)
	assert.Equal(t, "5.0.0", records[0].Version)
	assert.NotNil(t, records[0].CompletedAt)

	stats, err := f.reg.HistoryStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Finished)

	assert.Equal(t, []string{"started", "finished"}, f.notifier.kinds())
	assert.FileExists(t, filepath.Join(f.title.InstallPath, "GenshinImpact.exe"))

	version, err := f.reg.Resolver().LocalVersion(f.title)
	require.NoError(t, err)
	assert.Equal(t, "5.0.0", version)
}

func TestRegistry_OneEnginePerTitle(t *testing.T) {
	f := newRegistryFixture(t)
	f.dl.block = true
	events, unsubscribe := f.reg.Subscribe(8)
	defer unsubscribe()

	info, err := f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskInstall})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskInstall, info.Task)
	assert.NotEmpty(t, info.RecordID)

	_, err = f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskRepair})
	assert.ErrorIs(t, err, domain.ErrInstallInProgress)

	dup := NewEngine(&Plan{Title: f.title, Task: domain.TaskInstall}, testDeps(f.dl), testEngineConfig(), nil, nil)
	assert.ErrorIs(t, f.reg.AddInstallService(dup), domain.ErrInstallInProgress)

	require.Len(t, f.reg.List(), 1)
	require.NoError(t, f.reg.Pause(f.title.ID))
	require.NoError(t, f.reg.Continue(f.title.ID))

	require.NoError(t, f.reg.Cancel(f.title.ID))
	removed := waitRegistryEvent(t, events, InstallTaskRemoved)
	assert.Equal(t, domain.RecordCanceled, removed.Status)
	assert.Equal(t, domain.UserMessage(domain.ErrCanceled), removed.Error)

	assert.Empty(t, f.reg.List())
	assert.Equal(t, []string{"started"}, f.notifier.kinds())

	// the title is free again once the engine is removed
	f.dl.mu.Lock()
	f.dl.block = false
	f.dl.mu.Unlock()
	_, err = f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskInstall})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordFinished, waitRegistryEvent(t, events, InstallTaskRemoved).Status)
}

func TestRegistry_UnknownTitle(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.reg.StartInstall(context.Background(), StartRequest{Title: "bh3_global", Task: domain.TaskInstall})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, f.reg.Cancel("bh3_global"), domain.ErrNotFound)
	assert.ErrorIs(t, f.reg.Pause("bh3_global"), domain.ErrNotFound)

	_, err = f.reg.Progress("bh3_global")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: "reinstall"})
	assert.Error(t, err)

	_, err = f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskHardLink, LinkTitle: "hk4e_cn"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_PlanErrorsStartNothing(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskUpdate})
	assert.ErrorIs(t, err, domain.ErrNotFound, "update needs an installed game")
	assert.Empty(t, f.reg.List())
	assert.Empty(t, f.notifier.kinds())
}

func TestRegistry_RateLimit(t *testing.T) {
	f := newRegistryFixture(t)
	assert.Equal(t, int64(0), f.reg.RateLimit())

	require.NoError(t, f.reg.SetRateLimit(2*mib))
	assert.Equal(t, int64(2*mib), f.reg.RateLimit())
	assert.Same(t, f.reg.limiter, f.reg.deps.Limiter)

	assert.Error(t, f.reg.SetRateLimit(-1))
	assert.Equal(t, int64(2*mib), f.reg.RateLimit())

	require.NoError(t, f.reg.SetRateLimit(0))
	assert.Equal(t, int64(0), f.reg.RateLimit())
	assert.Zero(t, f.reg.Speed())
}

func TestRegistry_ShutdownCancelsEngines(t *testing.T) {
	f := newRegistryFixture(t)
	f.dl.block = true

	_, err := f.reg.StartInstall(context.Background(), StartRequest{Title: f.title.ID, Task: domain.TaskInstall})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.reg.Shutdown(ctx))
	assert.Empty(t, f.reg.List())

	records, err := f.repo.FindAll(nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordCanceled, records[0].Status)
}

package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
)

func newTestPlanner(m *fakeManifests, volumes VolumeInspector) *Planner {
	resolver := NewResolver(m, infrastructure.NewGameFiles(), domain.AudioEnglish, zap.NewNop())
	return NewPlanner(resolver, volumes, zap.NewNop())
}

func TestDecompressItems_GroupsSplitVolumes(t *testing.T) {
	root := filepath.FromSlash("/games/gi")
	files := []domain.GamePackageFile{
		{URL: "https://cdn.example.com/GenshinImpact_5.0.0.zip.002", Size: 20, DecompressedSize: 200},
		{URL: "https://cdn.example.com/GenshinImpact_5.0.0.zip.001", Size: 10, DecompressedSize: 100},
		{URL: "https://cdn.example.com/Audio_English(US)_5.0.0.zip", Size: 5, DecompressedSize: 50},
	}

	items := DecompressItems(root, files)
	require.Len(t, items, 2)

	game := items[0]
	assert.Equal(t, domain.ItemDecompress, game.Type)
	assert.Equal(t, filepath.Join(root, "GenshinImpact_5.0.0.zip"), game.Path)
	assert.Equal(t, []string{
		filepath.Join(root, "GenshinImpact_5.0.0.zip.001"),
		filepath.Join(root, "GenshinImpact_5.0.0.zip.002"),
	}, game.PackageFiles)
	assert.Equal(t, int64(30), game.Size)
	assert.Equal(t, int64(300), game.DecompressedSize)
	assert.Equal(t, root, game.TargetPath)

	audio := items[1]
	assert.Equal(t, []string{filepath.Join(root, "Audio_English(US)_5.0.0.zip")}, audio.PackageFiles)
	assert.NoError(t, domain.ValidatePlan(items))
}

func TestDownloadItems_StageUnderURLName(t *testing.T) {
	root := filepath.FromSlash("/games/gi")
	items := DownloadItems(root, []domain.GamePackageFile{
		{URL: "https://cdn.example.com/pkg/game.zip?sign=abc", MD5: "AA", Size: 7},
	})

	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(root, "game.zip"), items[0].Path)
	assert.Equal(t, filepath.Join(root, "game.zip")+"_tmp", items[0].WorkingPath())
	assert.Equal(t, domain.ItemDownload, items[0].Type)
}

func TestHardLinkDiff_SharedFilesBecomeLinks(t *testing.T) {
	title := domain.Title{InstallPath: filepath.FromSlash("/games/global"), DataDir: "GenshinImpact_Data"}
	link := domain.Title{InstallPath: filepath.FromSlash("/games/cn"), DataDir: "YuanShen_Data"}

	verify := func(root, rel, md5 string) domain.InstallItem {
		return domain.InstallItem{
			Type: domain.ItemVerify,
			Path: filepath.Join(root, filepath.FromSlash(rel)),
			URL:  "https://cdn.example.com/" + rel,
			Size: 1,
			MD5:  md5,
		}
	}

	items := []domain.InstallItem{
		verify(title.InstallPath, "GenshinImpact_Data/StreamingAssets/a.blk", "aa"),
		verify(title.InstallPath, "GenshinImpact_Data/StreamingAssets/b.blk", "bb"),
		verify(title.InstallPath, "GenshinImpact_Data/globalgamemanagers", "cc"),
		verify(title.InstallPath, "GenshinImpact.exe", "dd"),
		verify(title.InstallPath, "UnityPlayer.dll", "ee"),
	}
	linkItems := []domain.InstallItem{
		verify(link.InstallPath, "YuanShen_Data/StreamingAssets/a.blk", "AA"),
		verify(link.InstallPath, "YuanShen_Data/StreamingAssets/b.blk", "bb"),
		verify(link.InstallPath, "YuanShen_Data/globalgamemanagers", "zz"),
		verify(link.InstallPath, "YuanShen.exe", "dd"),
		verify(link.InstallPath, "UnityPlayer.dll", "ee"),
	}

	out := HardLinkDiff(title, link, items, linkItems)
	require.Len(t, out, len(items))

	var links, verifies int
	for _, item := range out {
		switch item.Type {
		case domain.ItemHardLink:
			links++
		case domain.ItemVerify:
			verifies++
		}
	}
	assert.Equal(t, 3, links)
	assert.Equal(t, 2, verifies)

	assert.Equal(t, domain.ItemHardLink, out[0].Type)
	assert.Equal(t, filepath.Join(link.InstallPath, "YuanShen_Data", "StreamingAssets", "a.blk"), out[0].HardLinkSource)
	assert.Equal(t, filepath.Join(title.InstallPath, "GenshinImpact_Data", "StreamingAssets", "a.blk"), out[0].Path)
	assert.Equal(t, filepath.Join(link.InstallPath, "UnityPlayer.dll"), out[4].HardLinkSource)
	assert.Equal(t, domain.ItemVerify, out[2].Type, "different md5 stays verify")
	assert.Equal(t, domain.ItemVerify, out[3].Type, "different path stays verify")
	assert.NoError(t, domain.ValidatePlan(out))
}

func TestTranslateDataDir(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		rel, from, to, want string
	}{
		{"YuanShen_Data" + sep + "a.blk", "YuanShen_Data", "GenshinImpact_Data", "GenshinImpact_Data" + sep + "a.blk"},
		{"YuanShen_Data", "YuanShen_Data", "GenshinImpact_Data", "GenshinImpact_Data"},
		{"UnityPlayer.dll", "YuanShen_Data", "GenshinImpact_Data", "UnityPlayer.dll"},
		{"YuanShen_Data2" + sep + "a", "YuanShen_Data", "GenshinImpact_Data", "YuanShen_Data2" + sep + "a"},
		{"YuanShen_Data" + sep + "a", "", "GenshinImpact_Data", "YuanShen_Data" + sep + "a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, translateDataDir(tt.rel, tt.from, tt.to), tt.rel)
	}
}

func TestMoveAudioAssets(t *testing.T) {
	title := testTitle(t)
	persistent := filepath.Join(title.InstallPath, title.DataDir, "Persistent", "AudioAssets")
	streaming := filepath.Join(title.InstallPath, title.DataDir, "StreamingAssets", "AudioAssets")

	writeFile(t, filepath.Join(persistent, "English(US)", "a.pck"), []byte("new"))
	writeFile(t, filepath.Join(persistent, "b.pck"), []byte("b"))
	writeFile(t, filepath.Join(streaming, "English(US)", "a.pck"), []byte("old"))

	require.NoError(t, MoveAudioAssets(title))

	got, err := os.ReadFile(filepath.Join(streaming, "English(US)", "a.pck"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.FileExists(t, filepath.Join(streaming, "b.pck"))
	assert.NoDirExists(t, persistent)

	// nothing left to move
	require.NoError(t, MoveAudioAssets(title))
}

func gamePackage(version string) *domain.GamePackage {
	return &domain.GamePackage{
		Title: "hk4e_global",
		Main: domain.PackageBranch{
			Major: &domain.GamePackageResource{
				Version: version,
				GamePackages: []domain.GamePackageFile{
					{URL: "https://cdn.example.com/GenshinImpact_" + version + ".zip.001", MD5: "a1", Size: 100, DecompressedSize: 300},
					{URL: "https://cdn.example.com/GenshinImpact_" + version + ".zip.002", MD5: "a2", Size: 50, DecompressedSize: 0},
				},
				AudioPackages: []domain.GamePackageFile{
					{URL: "https://cdn.example.com/Audio_English(US)_" + version + ".zip", MD5: "e1", Size: 30, DecompressedSize: 60, Language: "en-us"},
					{URL: "https://cdn.example.com/Audio_Japanese_" + version + ".zip", MD5: "j1", Size: 30, DecompressedSize: 60, Language: "ja-jp"},
				},
				ResListURL: "https://cdn.example.com/res/" + version,
			},
		},
	}
}

func TestPlanner_InstallUsesMajorAndDefaultAudio(t *testing.T) {
	title := testTitle(t)
	m := newFakeManifests()
	m.packages[title.ID] = gamePackage("5.0.0")

	plan, err := newTestPlanner(m, &fakeVolumes{same: true}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskInstall})
	require.NoError(t, err)

	assert.Equal(t, "5.0.0", plan.Version)
	assert.Len(t, plan.Items, 3, "two game volumes plus the english audio pack")
	require.Len(t, plan.Decompress, 2)
	assert.Len(t, plan.Decompress[0].PackageFiles, 2)

	langs, err := infrastructure.NewGameFiles().ReadAudioLanguages(audioScanPath(title))
	require.NoError(t, err)
	assert.Equal(t, []domain.AudioLanguage{domain.AudioEnglish}, langs, "scan file is written with the default")
}

func TestPlanner_PreDownloadHasNoDecompress(t *testing.T) {
	title := testTitle(t)
	require.NoError(t, infrastructure.NewGameFiles().WriteVersion(title.InstallPath, "5.0.0"))

	pkg := gamePackage("5.0.0")
	pre := gamePackage("5.1.0").Main
	pre.Patches = []domain.GamePackageResource{{
		Version:      "5.0.0",
		GamePackages: []domain.GamePackageFile{{URL: "https://cdn.example.com/game_5.0.0_5.1.0_hdiff.zip", MD5: "p", Size: 10}},
	}}
	pkg.PreDownload = &pre

	m := newFakeManifests()
	m.packages[title.ID] = pkg

	plan, err := newTestPlanner(m, &fakeVolumes{}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskPreDownload})
	require.NoError(t, err)

	require.Len(t, plan.Items, 1)
	assert.Equal(t, filepath.Join(title.InstallPath, "game_5.0.0_5.1.0_hdiff.zip"), plan.Items[0].Path)
	assert.Empty(t, plan.Decompress)
}

func TestPlanner_RepairReadsPkgVersionLists(t *testing.T) {
	title := testTitle(t)
	require.NoError(t, os.MkdirAll(title.InstallPath, 0755))
	require.NoError(t, infrastructure.NewGameFiles().WriteAudioLanguages(audioScanPath(title),
		[]domain.AudioLanguage{domain.AudioEnglish, domain.AudioJapanese}))

	m := newFakeManifests()
	m.packages[title.ID] = gamePackage("5.0.0")
	res := "https://cdn.example.com/res/5.0.0"
	m.pkgVersions[res+"/pkg_version"] = []domain.PkgVersionEntry{
		{RemoteName: "GenshinImpact.exe", MD5: "1", FileSize: 10},
		{RemoteName: "GenshinImpact_Data/app.info", MD5: "2", FileSize: 20},
	}
	m.pkgVersions[res+"/Audio_English(US)_pkg_version"] = []domain.PkgVersionEntry{
		{RemoteName: "GenshinImpact_Data/StreamingAssets/AudioAssets/English(US)/a.pck", MD5: "3", FileSize: 30},
	}
	m.pkgVersions[res+"/Audio_Japanese_pkg_version"] = []domain.PkgVersionEntry{
		{RemoteName: "GenshinImpact_Data/StreamingAssets/AudioAssets/Japanese/a.pck", MD5: "4", FileSize: 40},
		{RemoteName: "GenshinImpact.exe", MD5: "1", FileSize: 10},
	}

	plan, err := newTestPlanner(m, &fakeVolumes{}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskRepair})
	require.NoError(t, err)

	require.Len(t, plan.Items, 4, "duplicates across lists are dropped")
	for _, item := range plan.Items {
		assert.Equal(t, domain.ItemVerify, item.Type)
		assert.True(t, item.WriteAsTempFile)
	}
	assert.Equal(t, filepath.Join(title.InstallPath, "GenshinImpact_Data", "app.info"), plan.Items[1].Path)
	assert.Equal(t, res+"/GenshinImpact_Data/app.info", plan.Items[1].URL)
	assert.Empty(t, plan.Decompress)
}

func TestPlanner_RepairNeedsFileList(t *testing.T) {
	title := testTitle(t)
	require.NoError(t, os.MkdirAll(title.InstallPath, 0755))
	pkg := gamePackage("5.0.0")
	pkg.Main.Major.ResListURL = ""

	m := newFakeManifests()
	m.packages[title.ID] = pkg

	_, err := newTestPlanner(m, &fakeVolumes{}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskRepair})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestPlanner_RepairNeedsInstallPath(t *testing.T) {
	title := testTitle(t)
	m := newFakeManifests()
	m.packages[title.ID] = gamePackage("5.0.0")

	_, err := newTestPlanner(m, &fakeVolumes{}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskRepair})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlanner_RepairRejectsEscapingNames(t *testing.T) {
	title := testTitle(t)
	require.NoError(t, os.MkdirAll(title.InstallPath, 0755))

	m := newFakeManifests()
	m.packages[title.ID] = gamePackage("5.0.0")
	m.pkgVersions["https://cdn.example.com/res/5.0.0/pkg_version"] = []domain.PkgVersionEntry{
		{RemoteName: `..\..\outside.txt`, MD5: "1", FileSize: 10},
	}

	plan, err := newTestPlanner(m, &fakeVolumes{}).Build(context.Background(), PlanRequest{Title: title, Task: domain.TaskRepair})
	assert.ErrorIs(t, err, domain.ErrUnsafePath)
	assert.Nil(t, plan)
}

func TestPlanner_HardLinkPreconditions(t *testing.T) {
	title := testTitle(t)
	link := domain.Title{ID: "hk4e_cn", InstallPath: filepath.Join(t.TempDir(), "YuanShen"), DataDir: "YuanShen_Data"}

	m := newFakeManifests()
	m.packages[title.ID] = gamePackage("5.0.0")
	m.packages[link.ID] = gamePackage("5.0.0")

	_, err := newTestPlanner(m, &fakeVolumes{same: true}).Build(context.Background(),
		PlanRequest{Title: title, Task: domain.TaskHardLink, LinkTitle: &link})
	assert.ErrorIs(t, err, domain.ErrNotFound, "missing sibling install")

	require.NoError(t, os.MkdirAll(link.InstallPath, 0755))
	_, err = newTestPlanner(m, &fakeVolumes{same: false}).Build(context.Background(),
		PlanRequest{Title: title, Task: domain.TaskHardLink, LinkTitle: &link})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation, "different volumes")

	_, err = newTestPlanner(m, &fakeVolumes{same: true}).Build(context.Background(),
		PlanRequest{Title: title, Task: domain.TaskHardLink})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation, "no sibling given")
}

func TestPlanner_HardLinkDiffsBothLists(t *testing.T) {
	title := testTitle(t)
	link := domain.Title{
		ID:            "hk4e_cn",
		InstallPath:   filepath.Join(t.TempDir(), "YuanShen"),
		DataDir:       "YuanShen_Data",
		AudioScanFile: "YuanShen_Data/Persistent/audio_lang_14",
	}
	require.NoError(t, os.MkdirAll(link.InstallPath, 0755))

	global := gamePackage("5.0.0")
	cn := gamePackage("5.0.0")
	cn.Main.Major.ResListURL = "https://cdn.example.com/res-cn/5.0.0"

	m := newFakeManifests()
	m.packages[title.ID] = global
	m.packages[link.ID] = cn

	const n, shared = 6, 4
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("StreamingAssets/%d.blk", i)
		m.pkgVersions["https://cdn.example.com/res/5.0.0/pkg_version"] = append(
			m.pkgVersions["https://cdn.example.com/res/5.0.0/pkg_version"],
			domain.PkgVersionEntry{RemoteName: "GenshinImpact_Data/" + name, MD5: fmt.Sprint(i), FileSize: 1})

		sum := fmt.Sprint(i)
		if i >= shared {
			sum = "different"
		}
		m.pkgVersions["https://cdn.example.com/res-cn/5.0.0/pkg_version"] = append(
			m.pkgVersions["https://cdn.example.com/res-cn/5.0.0/pkg_version"],
			domain.PkgVersionEntry{RemoteName: "YuanShen_Data/" + name, MD5: sum, FileSize: 1})
	}
	m.pkgVersions["https://cdn.example.com/res/5.0.0/Audio_English(US)_pkg_version"] = nil
	m.pkgVersions["https://cdn.example.com/res-cn/5.0.0/Audio_English(US)_pkg_version"] = nil

	plan, err := newTestPlanner(m, &fakeVolumes{same: true}).Build(context.Background(),
		PlanRequest{Title: title, Task: domain.TaskHardLink, LinkTitle: &link})
	require.NoError(t, err)

	var links, verifies int
	for _, item := range plan.Items {
		switch item.Type {
		case domain.ItemHardLink:
			links++
		case domain.ItemVerify:
			verifies++
		}
	}
	assert.Equal(t, shared, links)
	assert.Equal(t, n-shared, verifies)
	assert.Equal(t, "5.0.0", plan.Version)
}

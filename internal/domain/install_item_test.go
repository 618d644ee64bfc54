package domain

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallItem_As(t *testing.T) {
	item := InstallItem{
		Type:         ItemVerify,
		Path:         "/games/a.pck",
		MD5:          "abc",
		PackageFiles: []string{"/games/a.zip.001"},
	}

	download := item.As(ItemDownload)

	assert.Equal(t, ItemDownload, download.Type)
	assert.Equal(t, ItemVerify, item.Type, "original item must not change")
	download.PackageFiles[0] = "changed"
	assert.Equal(t, "/games/a.zip.001", item.PackageFiles[0])
}

func TestInstallItem_WorkingPath(t *testing.T) {
	item := InstallItem{Path: "/games/a.zip"}
	assert.Equal(t, "/games/a.zip", item.WorkingPath())

	item.WriteAsTempFile = true
	assert.Equal(t, "/games/a.zip_tmp", item.WorkingPath())
}

func TestSafeJoin(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Genshin Impact Game")

	got, err := SafeJoin(root, "GenshinImpact_Data/app.info")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "GenshinImpact_Data", "app.info"), got)

	got, err = SafeJoin(root, `GenshinImpact_Data\Managed\a.dll`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "GenshinImpact_Data", "Managed", "a.dll"), got)

	for _, name := range []string{"../outside.txt", "../../outside.txt", "a/../../outside.txt", `..\outside.txt`, ""} {
		_, err := SafeJoin(root, name)
		assert.ErrorIs(t, err, ErrUnsafePath, name)
	}
}

func TestInstallItem_ExpectedLength(t *testing.T) {
	assert.Equal(t, int64(100), InstallItem{Size: 100}.ExpectedLength())
	assert.Equal(t, int64(50), InstallItem{Size: 100, Range: ByteRange{Start: 50, End: 99}}.ExpectedLength())
}

func TestInstallItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    InstallItem
		wantErr bool
	}{
		{"download ok", InstallItem{Type: ItemDownload, Path: "a", URL: "http://x/a"}, false},
		{"download without url", InstallItem{Type: ItemDownload, Path: "a"}, true},
		{"verify without md5", InstallItem{Type: ItemVerify, Path: "a"}, true},
		{"decompress without volumes", InstallItem{Type: ItemDecompress, Path: "a", TargetPath: "/g"}, true},
		{"decompress ok", InstallItem{Type: ItemDecompress, Path: "a", TargetPath: "/g", PackageFiles: []string{"a"}}, false},
		{"hardlink without source", InstallItem{Type: ItemHardLink, Path: "a"}, true},
		{"unknown type", InstallItem{Path: "a"}, true},
		{"missing path", InstallItem{Type: ItemVerify, MD5: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePlan_RejectsDuplicatePaths(t *testing.T) {
	items := []InstallItem{
		{Type: ItemVerify, Path: "/games/a", MD5: "1"},
		{Type: ItemVerify, Path: "/games/b", MD5: "2"},
		{Type: ItemDownload, Path: "/games/./a", URL: "http://x/a"},
	}

	err := ValidatePlan(items)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePath))
}

func TestValidatePlan_RangesOfOneURL(t *testing.T) {
	parts := []InstallItem{
		{Type: ItemDownload, Path: "/g/p1", URL: "http://x/big", Size: 100, Range: ByteRange{Start: 0, End: 99}},
		{Type: ItemDownload, Path: "/g/p2", URL: "http://x/big", Size: 100, Range: ByteRange{Start: 100, End: 199}},
	}
	assert.NoError(t, ValidatePlan(parts))

	parts[1].Range = ByteRange{Start: 50, End: 149}
	assert.Error(t, ValidatePlan(parts))
}

func TestInstallState_Transitions(t *testing.T) {
	assert.True(t, StateNone.CanTransition(StateQueue))
	assert.True(t, StateQueue.CanTransition(StateVerify))
	assert.True(t, StateDownload.CanTransition(StateDecompress))
	assert.False(t, StateFinish.CanTransition(StateDownload))
	assert.False(t, StateNone.CanTransition(StateDownload))
	assert.True(t, StateFinish.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.False(t, StateDecompress.IsTerminal())
}

func TestInstallTask_InitialState(t *testing.T) {
	assert.Equal(t, StateDownload, TaskUpdate.InitialState())
	assert.Equal(t, StateDownload, TaskInstall.InitialState())
	assert.Equal(t, StateVerify, TaskRepair.InitialState())
	assert.Equal(t, StateVerify, TaskHardLink.InitialState())

	task, err := ParseInstallTask("repair")
	require.NoError(t, err)
	assert.Equal(t, TaskRepair, task)

	_, err = ParseInstallTask("explode")
	assert.Error(t, err)
}

func TestPackageBranch_PatchFrom(t *testing.T) {
	branch := &PackageBranch{
		Major:   &GamePackageResource{Version: "4.1.0"},
		Patches: []GamePackageResource{{Version: "4.0.0"}, {Version: "3.8.0"}},
	}

	patch, ok := branch.PatchFrom("3.8.0")
	require.True(t, ok)
	assert.Equal(t, "3.8.0", patch.Version)

	_, ok = branch.PatchFrom("2.0.0")
	assert.False(t, ok)

	var nilBranch *PackageBranch
	_, ok = nilBranch.PatchFrom("3.8.0")
	assert.False(t, ok)
}

func TestGamePackageResource_FilesFor(t *testing.T) {
	r := &GamePackageResource{
		GamePackages: []GamePackageFile{{URL: "game.zip"}},
		AudioPackages: []GamePackageFile{
			{URL: "zh.zip", Language: "zh-cn"},
			{URL: "en.zip", Language: "en-us"},
			{URL: "ja.zip", Language: "ja-jp"},
		},
	}

	files := r.FilesFor([]AudioLanguage{AudioEnglish, AudioJapanese})

	require.Len(t, files, 3)
	assert.Equal(t, "game.zip", files[0].URL)
	assert.Equal(t, "en.zip", files[1].URL)
	assert.Equal(t, "ja.zip", files[2].URL)
}

func TestParseAudioLanguage(t *testing.T) {
	l, ok := ParseAudioLanguage("English(US)")
	assert.True(t, ok)
	assert.Equal(t, AudioEnglish, l)
	assert.Equal(t, "Audio_English(US)_pkg_version", l.PkgVersionName())

	l, ok = ParseAudioLanguage("zh-tw")
	assert.True(t, ok)
	assert.Equal(t, AudioChinese, l)

	_, ok = ParseAudioLanguage("Klingon")
	assert.False(t, ok)
}

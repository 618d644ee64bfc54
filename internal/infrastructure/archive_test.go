package infrastructure

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

type zipEntry struct {
	name  string
	body  string
	dir   bool
	attrs uint32
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		h := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.dir {
			h.Method = zip.Store
			h.CreatorVersion = 0 // MS-DOS attributes
			h.ExternalAttrs = e.attrs
		}
		w, err := zw.CreateHeader(h)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// splitVolumes writes data as n roughly equal volumes named base.001...
func splitVolumes(t *testing.T, dir, base string, data []byte, n int) []string {
	t.Helper()
	var paths []string
	chunk := (len(data) + n - 1) / n
	for i := 0; i < n; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		p := filepath.Join(dir, fmt.Sprintf("%s.%03d", base, i+1))
		require.NoError(t, os.WriteFile(p, data[start:end], 0644))
		paths = append(paths, p)
	}
	return paths
}

func TestVolumeReader_ReadAtAcrossVolumes(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	paths := splitVolumes(t, dir, "blob", data, 4)

	vr, err := OpenVolumes(paths)
	require.NoError(t, err)
	defer vr.Close()

	assert.Equal(t, int64(len(data)), vr.Size())

	buf := make([]byte, 12)
	n, err := vr.ReadAt(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, data[5:17], buf)

	all, err := io.ReadAll(io.NewSectionReader(vr, 0, vr.Size()))
	require.NoError(t, err)
	assert.Equal(t, data, all)

	n, err = vr.ReadAt(buf, int64(len(data))-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)
}

func TestExtract_SplitZip(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, []zipEntry{
		{name: "GenshinImpact_Data/", dir: true},
		{name: "GenshinImpact_Data/StreamingAssets", dir: true, attrs: msdosDirectory},
		{name: "GenshinImpact_Data/app.info", body: "miHoYo\nGenshin Impact"},
		{name: "UnityPlayer.dll", body: string(bytes.Repeat([]byte("x"), 5000))},
	})
	paths := splitVolumes(t, dir, "game.zip", data, 3)
	target := filepath.Join(dir, "install")

	var reported int64
	written, err := Extract(context.Background(), paths, target, func(n int64) { reported += n })
	require.NoError(t, err)

	assert.Equal(t, int64(len("miHoYo\nGenshin Impact")+5000), written)
	assert.Equal(t, written, reported)

	info, err := os.Stat(filepath.Join(target, "GenshinImpact_Data", "StreamingAssets"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, err := os.ReadFile(filepath.Join(target, "GenshinImpact_Data", "app.info"))
	require.NoError(t, err)
	assert.Equal(t, "miHoYo\nGenshin Impact", string(got))
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, []zipEntry{{name: "../evil.txt", body: "nope"}})
	p := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(p, data, 0644))

	_, err := Extract(context.Background(), []string{p}, filepath.Join(dir, "install"), nil)
	assert.ErrorIs(t, err, domain.ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
}

func TestExtract_BreaksHardLinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "install")
	sibling := filepath.Join(dir, "sibling.txt")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.WriteFile(sibling, []byte("shared"), 0644))
	require.NoError(t, os.Link(sibling, filepath.Join(target, "a.txt")))

	data := buildZip(t, []zipEntry{{name: "a.txt", body: "updated"}})
	p := filepath.Join(dir, "update.zip")
	require.NoError(t, os.WriteFile(p, data, 0644))

	_, err := Extract(context.Background(), []string{p}, target, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "updated", string(got))

	shared, err := os.ReadFile(sibling)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(shared), "linked sibling keeps its content")
}

func TestExtract_HonorsContext(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, []zipEntry{{name: "a.txt", body: "a"}})
	p := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(p, data, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Extract(ctx, []string{p}, filepath.Join(dir, "install"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsSevenZip(t *testing.T) {
	assert.True(t, isSevenZip("/dl/game_4.5.0.7z"))
	assert.True(t, isSevenZip("/dl/game_4.5.0.7z.001"))
	assert.True(t, isSevenZip("/dl/GAME.7Z"))
	assert.False(t, isSevenZip("/dl/game_4.5.0.zip.001"))
	assert.False(t, isSevenZip("/dl/game_4.5.0.zip"))
}

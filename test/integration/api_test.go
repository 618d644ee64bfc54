//go:build integration

package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/gameinstall-go/api/handlers"
	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
)

func gameContent() map[string][]byte {
	return map[string][]byte{
		"GenshinImpact.exe":               pattern(3000, 1),
		"GenshinImpact_Data/data.unity3d": pattern(5000, 2),
	}
}

func TestAPI_HealthAndTitles(t *testing.T) {
	s := newStack(t, newFakeCDN(t, "5.0.0", gameContent()))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil, nil))

	var titles []handlers.TitleStatus
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/titles", nil, &titles))
	require.Len(t, titles, 1)
	assert.Equal(t, titleID, titles[0].ID)
	assert.Empty(t, titles[0].LocalVersion)
	assert.False(t, titles[0].Installing)

	var need handlers.NeedDownloadResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/titles/"+titleID+"/resource", nil, &need))
	assert.False(t, need.UpToDate)
	assert.Equal(t, app.ResourceMajor, need.Kind)
	assert.Equal(t, "5.0.0", need.TargetVersion)
	assert.Positive(t, need.Size)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/titles/unknown/resource", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/nothing", nil, nil))
}

func TestAPI_InstallThenUpToDate(t *testing.T) {
	content := gameContent()
	s := newStack(t, newFakeCDN(t, "5.0.0", content))

	var info app.InstallInfo
	status := s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: titleID, Task: domain.TaskInstall}, &info)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, titleID, info.Title)
	assert.Equal(t, "5.0.0", info.Version)

	s.waitIdle(t)

	for name, data := range content {
		got, err := os.ReadFile(filepath.Join(s.title.InstallPath, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, data, got, name)
	}

	var records []domain.InstallRecord
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/history?title="+titleID, nil, &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordFinished, records[0].Status)
	assert.Equal(t, domain.TaskInstall, records[0].Task)

	var stats domain.InstallStats
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/history/stats", nil, &stats))
	assert.Equal(t, int64(1), stats.Finished)

	var need handlers.NeedDownloadResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/titles/"+titleID+"/resource", nil, &need))
	assert.True(t, need.UpToDate)
	assert.Equal(t, "5.0.0", need.LocalVersion)

	status = s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: titleID, Task: domain.TaskUpdate}, nil)
	assert.Equal(t, http.StatusConflict, status, "nothing to update")
}

func TestAPI_RepairRestoresDamagedFile(t *testing.T) {
	content := gameContent()
	cdn := newFakeCDN(t, "5.0.0", content)
	s := newStack(t, cdn)

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: titleID, Task: domain.TaskInstall}, nil))
	s.waitIdle(t)

	damaged := filepath.Join(s.title.InstallPath, "GenshinImpact_Data", "data.unity3d")
	require.NoError(t, os.WriteFile(damaged, []byte("broken"), 0644))

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: titleID, Task: domain.TaskRepair}, nil))
	s.waitIdle(t)

	got, err := os.ReadFile(damaged)
	require.NoError(t, err)
	assert.Equal(t, content["GenshinImpact_Data/data.unity3d"], got)
	assert.Equal(t, 1, cdn.hitCount("/res/GenshinImpact_Data/data.unity3d"))
	assert.Zero(t, cdn.hitCount("/res/GenshinImpact.exe"), "intact files are not fetched")

	var records []domain.InstallRecord
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/history?task=repair", nil, &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordFinished, records[0].Status)
}

func TestAPI_ErrorCodes(t *testing.T) {
	s := newStack(t, newFakeCDN(t, "5.0.0", gameContent()))

	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/v1/installs", map[string]string{"title": titleID}, nil))
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: "unknown", Task: domain.TaskInstall}, nil))

	// repair needs an existing install
	var body map[string]string
	status := s.do(t, http.MethodPost, "/api/v1/installs", app.StartRequest{Title: titleID, Task: domain.TaskRepair}, &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["message"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/installs/"+titleID+"/pause", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/installs/"+titleID+"/progress", nil, nil))
}

func TestAPI_RateLimit(t *testing.T) {
	s := newStack(t, newFakeCDN(t, "5.0.0", gameContent()))

	var limit map[string]int64
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/ratelimit", nil, &limit))
	assert.Equal(t, int64(0), limit["bytes_per_second"])

	require.Equal(t, http.StatusOK,
		s.do(t, http.MethodPut, "/api/v1/ratelimit", map[string]int64{"bytes_per_second": 1 << 20}, &limit))
	assert.Equal(t, int64(1<<20), limit["bytes_per_second"])
	assert.Equal(t, int64(1<<20), s.reg.RateLimit())

	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/api/v1/ratelimit", map[string]int64{"bytes_per_second": -1}, nil))
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/api/v1/ratelimit", map[string]string{}, nil))
}

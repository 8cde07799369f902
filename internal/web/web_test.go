package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub001/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ptymux"
	"github.com/Makr91/zoneweaver-api-sub001/internal/recipe"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
	"github.com/Makr91/zoneweaver-api-sub001/internal/vncsup"
)

func newTestServer(t *testing.T) (*Server, *store.Repo) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := store.NewRepo(s)
	require.NoError(t, err)

	// The engine is deliberately not started: tasks stay pending so the
	// handlers' enqueue responses can be asserted deterministically.
	engine := task.NewEngine(repo, map[string]task.Handler{}, 1)
	mux := ptymux.New(repo)
	interp := recipe.New(mux, time.Minute)

	return New(repo, engine, orchestrator.New(repo, engine), vncsup.New(repo), mux, interp), repo
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestValidZoneName(t *testing.T) {
	valid := []string{"a", "web01", "web-01", "web.01", "a_b", "Z9"}
	for _, name := range valid {
		require.True(t, validZoneName(name), name)
	}

	invalid := []string{"", "-bad", "bad-", ".hidden", "has space", strings.Repeat("a", 65)}
	for _, name := range invalid {
		require.False(t, validZoneName(name), name)
	}
}

func TestZoneActionEnqueuesTask(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/zones/web01/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	taskID, ok := body["task_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, taskID)

	created, found, err := repo.Tasks.Get(taskID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "web01", created.ZoneName)
	require.Equal(t, "start", created.Operation)
	require.Equal(t, store.TaskPending, created.Status)
}

// A second identical request maps to 200 with the existing task id.
func TestZoneActionAlreadyQueued(t *testing.T) {
	srv, _ := newTestServer(t)

	first := doJSON(t, srv, http.MethodPost, "/zones/web01/stop", nil)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doJSON(t, srv, http.MethodPost, "/zones/web01/stop", nil)
	require.Equal(t, http.StatusOK, second.Code)

	var b1, b2 map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &b1))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b2))
	require.Equal(t, b1["task_id"], b2["task_id"])
}

func TestZoneActionRejectsInvalidName(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/zones/-bad/start", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetZoneNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/zones/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateZoneConflict(t *testing.T) {
	srv, repo := newTestServer(t)

	require.NoError(t, repo.Zones.Put("web01", store.Zone{Name: "web01", Status: store.ZoneRunning}))

	rec := doJSON(t, srv, http.MethodPost, "/zones", map[string]interface{}{
		"name": "web01", "brand": "bhyve",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/zones/web01/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	taskID := body["task_id"].(string)

	got := doJSON(t, srv, http.MethodGet, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, got.Code)

	list := doJSON(t, srv, http.MethodGet, "/tasks?status=pending", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var tasks []store.Task
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)

	stats := doJSON(t, srv, http.MethodGet, "/tasks/stats", nil)
	require.Equal(t, http.StatusOK, stats.Code)

	cancelled := doJSON(t, srv, http.MethodDelete, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, cancelled.Code)

	// Cancelling a task that is no longer pending is a conflict.
	again := doJSON(t, srv, http.MethodDelete, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusConflict, again.Code)
}

func TestSnapshotRoutesEnqueue(t *testing.T) {
	srv, repo := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/zfs/datasets/tank/zones/web01/snapshots", map[string]interface{}{
		"snapshot_name": "pre-provision",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	created, _, err := repo.Tasks.FindOneWhere(func(x store.Task) bool { return x.Operation == "zfs_create_snapshot" })
	require.NoError(t, err)
	require.Equal(t, "system", created.ZoneName)
	require.Contains(t, created.Metadata, `"dataset":"tank/zones/web01"`)
	require.Contains(t, created.Metadata, `"snapshot_name":"pre-provision"`)
}

func TestRecipeCRUDAndDryRun(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/provisioning/recipes", store.Recipe{
		ID:          "r1",
		Name:        "debian-base",
		OSFamily:    "linux",
		ShellPrompt: "$ ",
		Steps: []store.RecipeStep{
			{Type: "command", Value: "hostname {{host}}"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	dup := doJSON(t, srv, http.MethodPost, "/provisioning/recipes", store.Recipe{ID: "r1", Name: "other"})
	require.Equal(t, http.StatusConflict, dup.Code)

	dry := doJSON(t, srv, http.MethodPost, "/provisioning/recipes/r1/test?dry_run=true", map[string]interface{}{})
	require.Equal(t, http.StatusOK, dry.Code)

	var body struct {
		Unresolved []string `json:"unresolved_variables"`
	}
	require.NoError(t, json.Unmarshal(dry.Body.Bytes(), &body))
	require.Equal(t, []string{"host"}, body.Unresolved)

	deleted := doJSON(t, srv, http.MethodDelete, "/provisioning/recipes/r1", nil)
	require.Equal(t, http.StatusOK, deleted.Code)

	missing := doJSON(t, srv, http.MethodGet, "/provisioning/recipes/r1", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

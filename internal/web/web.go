// Package web is the HTTP/WS surface: gorilla/mux routing over the task
// engine, persistence layer, zone orchestrator, VNC supervisor, and
// recipe interpreter. Zone, storage, network and artifact changes are
// validated and enqueued as tasks; VNC session control, orchestration
// enable/disable, artifact-path updates and live recipe tests call their
// components directly from the handler.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Makr91/zoneweaver-api-sub001/internal/apperr"
	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/network"
	"github.com/Makr91/zoneweaver-api-sub001/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ptymux"
	"github.com/Makr91/zoneweaver-api-sub001/internal/recipe"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
	"github.com/Makr91/zoneweaver-api-sub001/internal/vncsup"
)

// zoneNameRe is the accepted zone name shape, checked once here so
// every mutating endpoint shares the same validation.
var zoneNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*[A-Za-z0-9]$|^[A-Za-z0-9]$`)

func validZoneName(name string) bool {
	return len(name) <= 64 && zoneNameRe.MatchString(name)
}

// Server aggregates every dependency the HTTP surface calls into.
type Server struct {
	repo    *store.Repo
	engine  *task.Engine
	orch    *orchestrator.Orchestrator
	vnc     *vncsup.Supervisor
	mux     *ptymux.Mux
	interp  *recipe.Interpreter
	router  *mux.Router
	upgrade websocket.Upgrader
}

// New builds the router and registers every route.
func New(repo *store.Repo, engine *task.Engine, orch *orchestrator.Orchestrator, vnc *vncsup.Supervisor, m *ptymux.Mux, interp *recipe.Interpreter) *Server {
	s := &Server{
		repo:    repo,
		engine:  engine,
		orch:    orch,
		vnc:     vnc,
		mux:     m,
		interp:  interp,
		router:  mux.NewRouter(),
		upgrade: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
	}
	s.routes()
	return s
}

// Router exposes the underlying http.Handler for the listener.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/zones", s.listZones).Methods(http.MethodGet)
	r.HandleFunc("/zones", s.createZone).Methods(http.MethodPost)

	// Literal /zones/... paths must precede the {z} wildcard routes.
	r.HandleFunc("/zones/orchestration/status", s.orchStatus).Methods(http.MethodGet)
	r.HandleFunc("/zones/orchestration/enable", s.orchEnable).Methods(http.MethodPost)
	r.HandleFunc("/zones/orchestration/disable", s.orchDisable).Methods(http.MethodPost)
	r.HandleFunc("/zones/orchestration/test", s.orchTest).Methods(http.MethodPost)
	r.HandleFunc("/zones/priorities", s.zonePriorities).Methods(http.MethodGet)

	r.HandleFunc("/zones/{z}", s.getZone).Methods(http.MethodGet)
	r.HandleFunc("/zones/{z}/config", s.getZoneConfig).Methods(http.MethodGet)
	r.HandleFunc("/zones/{z}/config", s.modifyZone).Methods(http.MethodPut)
	r.HandleFunc("/zones/{z}/start", s.zoneAction("start")).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}/stop", s.zoneAction("stop")).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}/restart", s.zoneAction("restart")).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}/provision", s.provisionZone).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}/setup", s.setupZone).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}", s.deleteZone).Methods(http.MethodDelete)

	r.HandleFunc("/zones/{z}/vnc/start", s.vncStart).Methods(http.MethodPost)
	r.HandleFunc("/zones/{z}/vnc/info", s.vncInfo).Methods(http.MethodGet)
	r.HandleFunc("/zones/{z}/vnc/stop", s.vncStop).Methods(http.MethodDelete)
	r.HandleFunc("/zones/{z}/vnc/console", s.vncConsole).Methods(http.MethodGet)
	r.PathPrefix("/zones/{z}/vnc/").HandlerFunc(s.vncProxy).Methods(http.MethodGet)
	r.HandleFunc("/vnc/sessions", s.vncSessions).Methods(http.MethodGet)

	r.HandleFunc("/zones/{z}/console/ws", s.consoleWS).Methods(http.MethodGet)

	r.HandleFunc("/provisioning/recipes", s.listRecipes).Methods(http.MethodGet)
	r.HandleFunc("/provisioning/recipes", s.createRecipe).Methods(http.MethodPost)
	r.HandleFunc("/provisioning/recipes/{id}", s.getRecipe).Methods(http.MethodGet)
	r.HandleFunc("/provisioning/recipes/{id}", s.putRecipe).Methods(http.MethodPut)
	r.HandleFunc("/provisioning/recipes/{id}", s.deleteRecipe).Methods(http.MethodDelete)
	r.HandleFunc("/provisioning/recipes/{id}/test", s.testRecipe).Methods(http.MethodPost)

	r.HandleFunc("/storage/pools", s.listPools).Methods(http.MethodGet)
	r.HandleFunc("/storage/pools", s.createPool).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/import", s.importPool).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}", s.getPool).Methods(http.MethodGet)
	r.HandleFunc("/storage/pools/{pool}", s.destroyPool).Methods(http.MethodDelete)
	r.HandleFunc("/storage/pools/{pool}/properties", s.setPoolProperties).Methods(http.MethodPut)
	r.HandleFunc("/storage/pools/{pool}/scrub", s.scrubPool).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/scrub", s.stopScrubPool).Methods(http.MethodDelete)
	r.HandleFunc("/storage/pools/{pool}/vdevs", s.addVdev).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/vdevs/{device}", s.removeVdev).Methods(http.MethodDelete)
	r.HandleFunc("/storage/pools/{pool}/devices/replace", s.replaceDevice).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/devices/{device}/online", s.poolDeviceAction("zpool_online_device")).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/devices/{device}/offline", s.poolDeviceAction("zpool_offline_device")).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/export", s.poolAction("zpool_export")).Methods(http.MethodPost)
	r.HandleFunc("/storage/pools/{pool}/upgrade", s.poolAction("zpool_upgrade")).Methods(http.MethodPost)

	r.HandleFunc("/zfs/datasets", s.listDatasets).Methods(http.MethodGet)
	r.HandleFunc("/zfs/datasets", s.createDataset).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/properties", s.setDatasetProperties).Methods(http.MethodPut)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/rename", s.renameDataset).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/promote", s.datasetAction("zfs_promote_dataset")).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots/{snapshot}/rollback", s.snapshotAction("zfs_rollback_snapshot")).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots/{snapshot}/clone", s.cloneSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots/{snapshot}/hold", s.holdSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots/{snapshot}/hold", s.releaseSnapshot).Methods(http.MethodDelete)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots/{snapshot}", s.snapshotAction("zfs_destroy_snapshot")).Methods(http.MethodDelete)
	r.HandleFunc("/zfs/datasets/{dataset:.+}/snapshots", s.createSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/zfs/datasets/{dataset:.*}", s.getDataset).Methods(http.MethodGet)
	r.HandleFunc("/zfs/datasets/{dataset:.*}", s.destroyDataset).Methods(http.MethodDelete)

	r.HandleFunc("/network/nat/rules", s.listNatRules).Methods(http.MethodGet)
	r.HandleFunc("/network/nat/rules", s.createNatRule).Methods(http.MethodPost)
	r.HandleFunc("/network/nat/rules/{id}", s.deleteNatRule).Methods(http.MethodDelete)
	r.HandleFunc("/network/forwarding", s.configureForwarding).Methods(http.MethodPost)
	r.HandleFunc("/network/dhcp/config", s.getDhcpConfig).Methods(http.MethodGet)
	r.HandleFunc("/network/dhcp/config", s.updateDhcpConfig).Methods(http.MethodPost)
	r.HandleFunc("/network/dhcp/hosts", s.listDhcpHosts).Methods(http.MethodGet)
	r.HandleFunc("/network/dhcp/hosts", s.addDhcpHost).Methods(http.MethodPost)
	r.HandleFunc("/network/dhcp/hosts/{hostname}", s.removeDhcpHost).Methods(http.MethodDelete)
	r.HandleFunc("/network/dhcp/status", s.getDhcpStatus).Methods(http.MethodGet)
	r.HandleFunc("/network/dhcp/status", s.dhcpStatus).Methods(http.MethodPost)

	r.HandleFunc("/artifacts/process", s.processArtifact).Methods(http.MethodPost)
	r.HandleFunc("/artifacts/paths", s.getArtifactPaths).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/paths", s.setArtifactPaths).Methods(http.MethodPut)

	r.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/stats", s.taskStats).Methods(http.MethodGet)
	r.HandleFunc("/tasks/ws", s.taskEventsWS).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.cancelTask).Methods(http.MethodDelete)

	r.HandleFunc("/zlogin/sessions", s.zloginSessions).Methods(http.MethodGet)
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if ae, ok := apperr.As(err); ok {
		writeJSON(w, ae.Kind.Status(), ae.Details())
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeError(w, apperr.New(apperr.Validation, msg))
}

// enqueue writes the standard 202-with-task_id body every mutating
// endpoint returns, or 200 if the operation was already queued.
func (s *Server) enqueue(w http.ResponseWriter, zoneName, operation, createdBy string, priority store.Priority, dependsOn, metadata string) {
	id, already, err := s.engine.Enqueue(zoneName, operation, createdBy, priority, dependsOn, metadata)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.Internal, "enqueueing task"))
		return
	}

	status := http.StatusAccepted
	body := map[string]interface{}{"task_id": id}
	if already {
		status = http.StatusOK
		body["message"] = "operation already queued"
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// --- zones ---

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.repo.Zones.FindAllWhere(func(z store.Zone) bool { return !z.IsOrphaned }, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	z, found, err := s.repo.Zones.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "zone not found"))
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *Server) getZoneConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	z, found, err := s.repo.Zones.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "zone not found"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, z.Configuration)
}

func (s *Server) zoneAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["z"]
		if !validZoneName(name) {
			writeValidation(w, "invalid zone name")
			return
		}
		s.enqueue(w, name, op, "api", store.PriorityMedium, "", "")
	}
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Brand    string `json:"brand"`
		RAM      string `json:"ram"`
		VCPUs    int    `json:"vcpus"`
		Autoboot bool   `json:"autoboot"`
		Priority int    `json:"priority"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" || body.Brand == "" {
		writeValidation(w, "name and brand are required")
		return
	}
	if !validZoneName(body.Name) {
		writeValidation(w, "invalid zone name")
		return
	}
	if z, found, _ := s.repo.Zones.Get(body.Name); found && !z.IsOrphaned {
		writeError(w, apperr.New(apperr.Conflict, "zone already exists"))
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, body.Name, "zone_create", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) modifyZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		writeValidation(w, "invalid zone name")
		return
	}
	if _, found, _ := s.repo.Zones.Get(name); !found {
		writeError(w, apperr.New(apperr.NotFound, "zone not found"))
		return
	}
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil || len(body) == 0 {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, name, "zone_modify", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) provisionZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		writeValidation(w, "invalid zone name")
		return
	}
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, name, "zone_provision_create", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) setupZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		writeValidation(w, "invalid zone name")
		return
	}
	var body struct {
		RecipeID  string            `json:"recipe_id"`
		Variables map[string]string `json:"variables"`
	}
	if err := decodeBody(r, &body); err != nil || body.RecipeID == "" {
		writeValidation(w, "recipe_id is required")
		return
	}
	if _, found, _ := s.repo.Recipes.Get(body.RecipeID); !found {
		writeError(w, apperr.New(apperr.NotFound, "recipe not found"))
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, name, "zone_setup", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		writeValidation(w, "invalid zone name")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	meta, _ := json.Marshal(map[string]bool{"force": force})
	s.enqueue(w, name, "delete", "api", store.PriorityMedium, "", string(meta))
}

// --- orchestration ---

func (s *Server) orchStatus(w http.ResponseWriter, r *http.Request) {
	state, err := orchestrator.QueryState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) orchEnable(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Enable(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) orchDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Disable(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

// orchTest is the dry-run planner projection: compute the plan without
// enqueuing anything.
func (s *Server) orchTest(w http.ResponseWriter, r *http.Request) {
	groups, err := s.orch.Priorities()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) zonePriorities(w http.ResponseWriter, r *http.Request) {
	groups, err := s.orch.Priorities()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// --- vnc ---

func (s *Server) vncStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		writeValidation(w, "invalid zone name")
		return
	}
	info, err := s.vnc.Start(r.Context(), name)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.Upstream, "starting vnc session"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) vncInfo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	info, found, err := s.vnc.Info(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "no vnc session for zone"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) vncStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if err := s.vnc.Stop(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) vncConsole(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	s.vnc.Proxy(w, r, name, "")
}

func (s *Server) vncProxy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	prefix := fmt.Sprintf("/zones/%s/vnc/", name)
	path := r.URL.Path[len(prefix):]
	s.vnc.Proxy(w, r, name, path)
}

func (s *Server) vncSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.vnc.Sessions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// --- console websocket ---

// consoleWS bridges a zone's PTY to a websocket client: writes flow
// browser->PTY, and a Subscribe callback flows PTY->browser.
func (s *Server) consoleWS(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["z"]
	if !validZoneName(name) {
		http.Error(w, "invalid zone name", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		minilog.Warn("web: upgrading console ws for %s: %v", name, err)
		return
	}
	defer conn.Close()

	if _, err := s.mux.Get(name, 80, 24); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		return
	}

	connID := fmt.Sprintf("%p-%d", conn, time.Now().UnixNano())
	var writeMu fwdLock

	// Feed the VNC supervisor's connection tracker so smart cleanup can
	// tell when the zone's last viewer disconnects.
	s.vnc.TrackConnection(name, connID)
	defer s.vnc.UntrackConnection(context.Background(), name, connID)

	unsubscribe, err := s.mux.Subscribe(name, func(chunk []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		return
	}
	defer unsubscribe()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if err := s.mux.Write(name, data); err != nil {
			break
		}
	}
}

// fwdLock is a tiny named mutex so consoleWS's write-serialization intent
// reads clearly at the call site above.
type fwdLock struct{ ch chan struct{} }

func (l *fwdLock) Lock() {
	if l.ch == nil {
		l.ch = make(chan struct{}, 1)
	}
	l.ch <- struct{}{}
}

func (l *fwdLock) Unlock() { <-l.ch }

// --- recipes ---

func (s *Server) listRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.repo.Recipes.FindAllWhere(nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request) {
	var rec store.Recipe
	if err := decodeBody(r, &rec); err != nil {
		writeValidation(w, "invalid recipe body")
		return
	}
	if rec.ID == "" {
		writeValidation(w, "id is required")
		return
	}
	if _, found, _ := s.repo.Recipes.Get(rec.ID); found {
		writeError(w, apperr.New(apperr.Conflict, "recipe id already exists"))
		return
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	if err := s.repo.Recipes.Create(rec.ID, rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getRecipe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, found, err := s.repo.Recipes.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "recipe not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) putRecipe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, found, _ := s.repo.Recipes.Get(id); !found {
		writeError(w, apperr.New(apperr.NotFound, "recipe not found"))
		return
	}
	var rec store.Recipe
	if err := decodeBody(r, &rec); err != nil {
		writeValidation(w, "invalid recipe body")
		return
	}
	rec.ID = id
	rec.UpdatedAt = time.Now()
	if err := s.repo.Recipes.Put(id, rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.repo.Recipes.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// testRecipe runs a recipe against a zone, or with dry_run=true just
// reports the steps and any placeholders left unresolved.
func (s *Server) testRecipe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, found, err := s.repo.Recipes.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "recipe not found"))
		return
	}

	var body struct {
		Variables map[string]string `json:"variables"`
		ZoneName  string             `json:"zone_name"`
	}
	_ = decodeBody(r, &body)

	if r.URL.Query().Get("dry_run") == "true" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"steps":                 rec.Steps,
			"unresolved_variables": recipe.UnresolvedPlaceholders(rec, body.Variables),
		})
		return
	}

	if body.ZoneName == "" || !validZoneName(body.ZoneName) {
		writeValidation(w, "zone_name is required for a live test")
		return
	}
	result := s.interp.Execute(body.ZoneName, rec, body.Variables)
	writeJSON(w, http.StatusOK, result)
}

// --- storage pools ---

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.repo.ZFSPools.FindAllWhere(nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	p, found, err := s.repo.ZFSPools.FindOneWhere(func(p store.ZFSPoolRecord) bool { return p.Name == name })
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "pool not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createPool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pool  string              `json:"pool"`
		Vdevs []string            `json:"vdevs"`
		Force bool                `json:"force"`
	}
	if err := decodeBody(r, &body); err != nil || body.Pool == "" || len(body.Vdevs) == 0 {
		writeValidation(w, "pool and vdevs are required")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "zpool_create", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) destroyPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	meta, _ := json.Marshal(map[string]string{"pool": name})
	s.enqueue(w, "system", "zpool_destroy", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) setPoolProperties(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	var body struct {
		Properties map[string]string `json:"properties"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(map[string]interface{}{"pool": name, "properties": body.Properties})
	s.enqueue(w, "system", "zpool_set_properties", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) scrubPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	meta, _ := json.Marshal(map[string]string{"pool": name})
	s.enqueue(w, "system", "zpool_scrub", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) stopScrubPool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	meta, _ := json.Marshal(map[string]string{"pool": name})
	s.enqueue(w, "system", "zpool_stop_scrub", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) importPool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pool  string `json:"pool"`
		Force bool   `json:"force"`
	}
	if err := decodeBody(r, &body); err != nil || body.Pool == "" {
		writeValidation(w, "pool is required")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "zpool_import", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) addVdev(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	var body struct {
		Vdevs    []string `json:"vdevs"`
		VdevType string   `json:"vdev_type"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.Vdevs) == 0 {
		writeValidation(w, "vdevs are required")
		return
	}
	meta, _ := json.Marshal(map[string]interface{}{"pool": name, "vdevs": body.Vdevs, "vdev_type": body.VdevType})
	s.enqueue(w, "system", "zpool_add_vdev", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) removeVdev(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meta, _ := json.Marshal(map[string]string{"pool": vars["pool"], "device": vars["device"]})
	s.enqueue(w, "system", "zpool_remove_vdev", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) replaceDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["pool"]
	var body struct {
		OldDevice string `json:"old_device"`
		NewDevice string `json:"new_device"`
	}
	if err := decodeBody(r, &body); err != nil || body.OldDevice == "" || body.NewDevice == "" {
		writeValidation(w, "old_device and new_device are required")
		return
	}
	meta, _ := json.Marshal(map[string]string{"pool": name, "old_device": body.OldDevice, "new_device": body.NewDevice})
	s.enqueue(w, "system", "zpool_replace_device", "api", store.PriorityMedium, "", string(meta))
}

// poolDeviceAction handles the online/offline device toggles, which
// share a {pool, device} metadata shape.
func (s *Server) poolDeviceAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		meta, _ := json.Marshal(map[string]string{"pool": vars["pool"], "device": vars["device"]})
		s.enqueue(w, "system", op, "api", store.PriorityMedium, "", string(meta))
	}
}

// poolAction handles operations that need only the pool name
// (export/upgrade), reading an optional force flag from the query.
func (s *Server) poolAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["pool"]
		force := r.URL.Query().Get("force") == "true"
		meta, _ := json.Marshal(map[string]interface{}{"pool": name, "force": force})
		s.enqueue(w, "system", op, "api", store.PriorityMedium, "", string(meta))
	}
}

// --- zfs datasets ---

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.repo.ZFSDatasets.FindAllWhere(nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["dataset"]
	d, found, err := s.repo.ZFSDatasets.FindOneWhere(func(d store.ZFSDatasetRecord) bool { return d.Name == name })
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "dataset not found"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "zfs_create_dataset", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) destroyDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["dataset"]
	meta, _ := json.Marshal(map[string]interface{}{
		"dataset":   name,
		"recursive": r.URL.Query().Get("recursive") == "true",
		"force":     r.URL.Query().Get("force") == "true",
	})
	s.enqueue(w, "system", "zfs_destroy_dataset", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) setDatasetProperties(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["dataset"]
	var body struct {
		Properties map[string]string `json:"properties"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.Properties) == 0 {
		writeValidation(w, "properties are required")
		return
	}
	meta, _ := json.Marshal(map[string]interface{}{"dataset": name, "properties": body.Properties})
	s.enqueue(w, "system", "zfs_set_properties", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) renameDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["dataset"]
	var body struct {
		NewName string `json:"new_name"`
	}
	if err := decodeBody(r, &body); err != nil || body.NewName == "" {
		writeValidation(w, "new_name is required")
		return
	}
	meta, _ := json.Marshal(map[string]string{"dataset": name, "new_name": body.NewName})
	s.enqueue(w, "system", "zfs_rename_dataset", "api", store.PriorityMedium, "", string(meta))
}

// datasetAction handles dataset operations needing only the dataset name
// (promote).
func (s *Server) datasetAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["dataset"]
		meta, _ := json.Marshal(map[string]string{"dataset": name})
		s.enqueue(w, "system", op, "api", store.PriorityMedium, "", string(meta))
	}
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["dataset"]
	var body struct {
		SnapshotName string `json:"snapshot_name"`
		Recursive    bool   `json:"recursive"`
	}
	if err := decodeBody(r, &body); err != nil || body.SnapshotName == "" {
		writeValidation(w, "snapshot_name is required")
		return
	}
	meta, _ := json.Marshal(map[string]interface{}{
		"dataset": name, "snapshot_name": body.SnapshotName, "recursive": body.Recursive,
	})
	s.enqueue(w, "system", "zfs_create_snapshot", "api", store.PriorityMedium, "", string(meta))
}

// snapshotAction handles snapshot operations keyed by {dataset,
// snapshot} path vars (destroy/rollback).
func (s *Server) snapshotAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		meta, _ := json.Marshal(map[string]interface{}{
			"dataset":       vars["dataset"],
			"snapshot_name": vars["snapshot"],
			"recursive":     r.URL.Query().Get("recursive") == "true",
			"force":         r.URL.Query().Get("force") == "true",
		})
		s.enqueue(w, "system", op, "api", store.PriorityMedium, "", string(meta))
	}
}

func (s *Server) cloneSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		CloneName string `json:"clone_name"`
	}
	if err := decodeBody(r, &body); err != nil || body.CloneName == "" {
		writeValidation(w, "clone_name is required")
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"dataset": vars["dataset"], "snapshot_name": vars["snapshot"], "clone_name": body.CloneName,
	})
	s.enqueue(w, "system", "zfs_clone_dataset", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) holdSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Tag string `json:"tag"`
	}
	if err := decodeBody(r, &body); err != nil || body.Tag == "" {
		writeValidation(w, "tag is required")
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"dataset": vars["dataset"], "snapshot_name": vars["snapshot"], "tag": body.Tag,
	})
	s.enqueue(w, "system", "zfs_hold_snapshot", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) releaseSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeValidation(w, "tag is required")
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"dataset": vars["dataset"], "snapshot_name": vars["snapshot"], "tag": tag,
	})
	s.enqueue(w, "system", "zfs_release_snapshot", "api", store.PriorityMedium, "", string(meta))
}

// --- network ---

func (s *Server) listNatRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.repo.NatRules.FindAllWhere(nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) createNatRule(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "nat_create", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) deleteNatRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, _ := json.Marshal(map[string]string{"id": id})
	s.enqueue(w, "system", "nat_delete", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) configureForwarding(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "forwarding_configure", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) getDhcpConfig(w http.ResponseWriter, r *http.Request) {
	subnets, hosts, err := network.ReadDhcpdConf()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subnets": subnets, "hosts": hosts})
}

// getDhcpStatus is a read-only SMF state probe, run directly rather than
// through a task.
func (s *Server) getDhcpStatus(w http.ResponseWriter, r *http.Request) {
	res := cmdrunner.Run(r.Context(), "svcs -H -o state "+network.DhcpServiceFMRI)
	state := "unknown"
	if res.Success {
		state = strings.TrimSpace(res.Stdout)
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": network.DhcpServiceFMRI, "state": state})
}

func (s *Server) updateDhcpConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "dhcp_update_config", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) listDhcpHosts(w http.ResponseWriter, r *http.Request) {
	_, hosts, err := network.ReadDhcpdConf()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) addDhcpHost(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := decodeBody(r, &body); err != nil {
		writeValidation(w, "invalid body")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "dhcp_add_host", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) removeDhcpHost(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["hostname"]
	meta, _ := json.Marshal(map[string]string{"name": name})
	s.enqueue(w, "system", "dhcp_remove_host", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) dhcpStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil || body.Action == "" {
		writeValidation(w, "action is required")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "dhcp_service_control", "api", store.PriorityMedium, "", string(meta))
}

// --- artifacts ---

// processArtifact hands an already-received upload (written to disk by
// the out-of-scope upload middleware) to the artifact_upload_process
// operation.
func (s *Server) processArtifact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourcePath string `json:"source_path"`
		Filename   string `json:"filename"`
	}
	if err := decodeBody(r, &body); err != nil || body.SourcePath == "" || body.Filename == "" {
		writeValidation(w, "source_path and filename are required")
		return
	}
	meta, _ := json.Marshal(body)
	s.enqueue(w, "system", "artifact_upload_process", "api", store.PriorityMedium, "", string(meta))
}

func (s *Server) getArtifactPaths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"paths": config.Get().ArtifactStorage.Paths})
}

func (s *Server) setArtifactPaths(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paths []string `json:"paths"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.Paths) == 0 {
		writeValidation(w, "paths are required")
		return
	}
	if err := config.SetArtifactPaths(body.Paths); err != nil {
		writeError(w, apperr.Wrap(err, apperr.Internal, "persisting artifact paths"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paths": body.Paths})
}

// --- tasks ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statusFilter := store.TaskStatus(q.Get("status"))
	opFilter := q.Get("operation")
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	all, err := s.repo.Tasks.FindAllWhere(func(t store.Task) bool {
		if statusFilter != "" && t.Status != statusFilter {
			return false
		}
		if opFilter != "" && t.Operation != opFilter {
			return false
		}
		return true
	}, &store.QueryOptions[store.Task]{
		Less: func(a, b store.Task) bool { return a.CreatedAt.After(b.CreatedAt) },
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if offset > 0 && offset < len(all) {
		all = all[offset:]
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, found, err := s.repo.Tasks.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.New(apperr.NotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) taskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := task.ComputeStats(s.repo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Cancel(id); err != nil {
		writeError(w, apperr.Wrap(err, apperr.Conflict, "cancelling task"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}


// taskEventsWS streams task status transitions to a websocket client:
// on connect every non-terminal task is sent, then the Tasks table is
// polled and any task whose status changed since the last poll is pushed.
// Polling rather than an in-process event bus keeps the stream correct
// across daemon restarts, since the queue itself is DB-backed.
func (s *Server) taskEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		minilog.Warn("web: upgrading task event ws: %v", err)
		return
	}
	defer conn.Close()

	// Drain (and discard) client messages so pings and closes are
	// processed; the stream is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastStatus := map[string]store.TaskStatus{}

	send := func(t store.Task) bool {
		if err := conn.WriteJSON(t); err != nil {
			return false
		}
		lastStatus[t.ID] = t.Status
		return true
	}

	initial, err := s.repo.Tasks.FindAllWhere(func(t store.Task) bool {
		return t.Status == store.TaskPending || t.Status == store.TaskRunning
	}, nil)
	if err != nil {
		return
	}
	for _, t := range initial {
		if !send(t) {
			return
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		all, err := s.repo.Tasks.FindAllWhere(nil, nil)
		if err != nil {
			continue
		}
		for _, t := range all {
			prev, seen := lastStatus[t.ID]
			if seen && prev == t.Status {
				continue
			}
			if !seen && t.Status != store.TaskPending && t.Status != store.TaskRunning {
				// Terminal before we ever saw it; nothing to stream.
				lastStatus[t.ID] = t.Status
				continue
			}
			if !send(t) {
				return
			}
		}
	}
}

// --- zlogin sessions ---

func (s *Server) zloginSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.ZloginSessions.FindAllWhere(nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

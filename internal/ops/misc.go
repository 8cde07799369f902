package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/recipe"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// miscHandlers returns the remaining closed-enum operations that don't
// belong to the zone/zpool/zfs/network groups: artifact processing and
// recipe-driven zone setup.
func miscHandlers() map[string]task.Handler {
	return map[string]task.Handler{
		"artifact_upload_process": handleArtifactUploadProcess,
		"zone_setup":              handleZoneSetup,
	}
}

// interpreter and miscRepo are injected once at startup (WireInterpreter)
// since zone_setup needs both the Recipe table and a live PTY.
var (
	interpreter *recipe.Interpreter
	miscRepo    *store.Repo
)

// WireInterpreter injects the recipe interpreter and repo dependencies
// the zone_setup handler needs; called once at startup from
// cmd/zoneweaverd.
func WireInterpreter(ip *recipe.Interpreter, repo *store.Repo) {
	interpreter = ip
	miscRepo = repo
}

type artifactMetadata struct {
	SourcePath string `json:"source_path"`
	Filename   string `json:"filename"`
}

// handleArtifactUploadProcess moves an already-received upload into one
// of the configured artifact_storage.paths, verifying it lands somewhere
// the config allows and recording a checksum as the task's artifact.
func handleArtifactUploadProcess(ctx context.Context, t store.Task) task.HandlerResult {
	var m artifactMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.SourcePath == "" || m.Filename == "" {
		return task.HandlerResult{Success: false, Error: "source_path and filename are required"}
	}

	paths := config.Get().ArtifactStorage.Paths
	if len(paths) == 0 {
		return task.HandlerResult{Success: false, Error: "no artifact_storage.paths configured"}
	}

	dest := filepath.Join(paths[0], m.Filename)
	if rel, err := filepath.Rel(paths[0], dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return task.HandlerResult{Success: false, Error: fmt.Sprintf("filename %q resolves outside %s", m.Filename, paths[0])}
	}
	if err := moveFile(m.SourcePath, dest); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	sum, err := sha256File(dest)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	return task.HandlerResult{
		Success:  true,
		Message:  fmt.Sprintf("artifact %s processed", m.Filename),
		Artifact: fmt.Sprintf("%s sha256:%s", dest, sum),
	}
}

func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating dest artifact: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying artifact: %w", err)
	}
	return os.Remove(src)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type zoneSetupMetadata struct {
	RecipeID  string            `json:"recipe_id"`
	Variables map[string]string `json:"variables"`
}

// handleZoneSetup executes a Recipe against the zone's PTY through the
// recipe interpreter.
func handleZoneSetup(ctx context.Context, t store.Task) task.HandlerResult {
	if interpreter == nil || miscRepo == nil {
		return task.HandlerResult{Success: false, Error: "zone_setup handler not wired to an interpreter"}
	}

	var m zoneSetupMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.RecipeID == "" {
		return task.HandlerResult{Success: false, Error: "recipe_id is required"}
	}

	r, found, err := miscRepo.Recipes.Get(m.RecipeID)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if !found {
		return task.HandlerResult{Success: false, Error: fmt.Sprintf("recipe %s not found", m.RecipeID)}
	}

	result := interpreter.Execute(t.ZoneName, r, m.Variables)
	if !result.Success {
		return task.HandlerResult{Success: false, Error: fmt.Sprintf("recipe failed: %v", result.Errors)}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("recipe %s completed for zone %s", r.Name, t.ZoneName)}
}

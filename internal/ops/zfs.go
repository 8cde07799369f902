package ops

import (
	"context"
	"fmt"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// zfsHandlers returns the ZFS dataset and snapshot operation handlers.
func zfsHandlers() map[string]task.Handler {
	return map[string]task.Handler{
		"zfs_create_dataset":    handleZfsCreateDataset,
		"zfs_destroy_dataset":   handleZfsDestroyDataset,
		"zfs_set_properties":    handleZfsSetProperties,
		"zfs_clone_dataset":     handleZfsCloneDataset,
		"zfs_promote_dataset":   handleZfsPromoteDataset,
		"zfs_rename_dataset":    handleZfsRenameDataset,
		"zfs_create_snapshot":   handleZfsCreateSnapshot,
		"zfs_destroy_snapshot":  handleZfsDestroySnapshot,
		"zfs_rollback_snapshot": handleZfsRollbackSnapshot,
		"zfs_hold_snapshot":     handleZfsHoldSnapshot,
		"zfs_release_snapshot":  handleZfsReleaseSnapshot,
	}
}

// datasetMetadata is the common shape for zfs_* task metadata.
type datasetMetadata struct {
	Dataset      string            `json:"dataset"`
	NewName      string            `json:"new_name"`
	CloneName    string            `json:"clone_name"`
	SnapshotName string            `json:"snapshot_name"`
	Recursive    bool              `json:"recursive"`
	Force        bool              `json:"force"`
	Tag          string            `json:"tag"`
	Properties   map[string]string `json:"properties"`
}

func decodeDatasetMeta(t store.Task) (datasetMetadata, error) {
	var m datasetMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return m, err
	}
	if m.Dataset == "" {
		m.Dataset = t.ZoneName
	}
	return m, nil
}

func (m datasetMetadata) snapshotRef() string {
	return fmt.Sprintf("%s@%s", m.Dataset, m.SnapshotName)
}

func handleZfsCreateDataset(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	args := ""
	if m.Recursive {
		args = "-p "
	}
	for k, v := range m.Properties {
		args += fmt.Sprintf("-o %s=%s ", k, shellQuote(v))
	}

	cmd := fmt.Sprintf("zfs create %s%s", args, shellQuote(m.Dataset))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s created", m.Dataset))
}

func handleZfsDestroyDataset(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	args := ""
	if m.Recursive {
		args += "-r "
	}
	if m.Force {
		args += "-f "
	}

	cmd := fmt.Sprintf("zfs destroy %s%s", args, shellQuote(m.Dataset))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s destroyed", m.Dataset))
}

func handleZfsSetProperties(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if len(m.Properties) == 0 {
		return task.HandlerResult{Success: false, Error: "no properties given"}
	}

	for k, v := range m.Properties {
		res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec zfs set %s=%s %s", k, shellQuote(v), shellQuote(m.Dataset)))
		if !res.Success {
			return task.HandlerResult{Success: false, Error: fmt.Sprintf("setting %s: %s", k, res.Stderr)}
		}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("dataset %s properties updated", m.Dataset)}
}

func handleZfsCloneDataset(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.CloneName == "" {
		return task.HandlerResult{Success: false, Error: "clone_name is required"}
	}

	cmd := fmt.Sprintf("zfs clone %s %s", shellQuote(m.snapshotRef()), shellQuote(m.CloneName))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s cloned from %s", m.CloneName, m.snapshotRef()))
}

func handleZfsPromoteDataset(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zfs promote %s", shellQuote(m.Dataset))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s promoted", m.Dataset))
}

func handleZfsRenameDataset(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.NewName == "" {
		return task.HandlerResult{Success: false, Error: "new_name is required"}
	}
	cmd := fmt.Sprintf("zfs rename %s %s", shellQuote(m.Dataset), shellQuote(m.NewName))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s renamed to %s", m.Dataset, m.NewName))
}

func handleZfsCreateSnapshot(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.SnapshotName == "" {
		return task.HandlerResult{Success: false, Error: "snapshot_name is required"}
	}

	args := ""
	if m.Recursive {
		args = "-r "
	}
	cmd := fmt.Sprintf("zfs snapshot %s%s", args, shellQuote(m.snapshotRef()))
	return runShell(ctx, cmd, fmt.Sprintf("snapshot %s created", m.snapshotRef()))
}

func handleZfsDestroySnapshot(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.SnapshotName == "" {
		return task.HandlerResult{Success: false, Error: "snapshot_name is required"}
	}

	args := ""
	if m.Recursive {
		args = "-r "
	}
	cmd := fmt.Sprintf("zfs destroy %s%s", args, shellQuote(m.snapshotRef()))
	return runShell(ctx, cmd, fmt.Sprintf("snapshot %s destroyed", m.snapshotRef()))
}

// handleZfsRollbackSnapshot is also the rollback side of the composite
// zone_provision_create chain: callers enqueue this with
// snapshot_name="pre-provision" on failure.
func handleZfsRollbackSnapshot(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.SnapshotName == "" {
		return task.HandlerResult{Success: false, Error: "snapshot_name is required"}
	}

	args := ""
	if m.Force {
		args = "-rf "
	}
	cmd := fmt.Sprintf("zfs rollback %s%s", args, shellQuote(m.snapshotRef()))
	return runShell(ctx, cmd, fmt.Sprintf("dataset %s rolled back to %s", m.Dataset, m.snapshotRef()))
}

func handleZfsHoldSnapshot(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.Tag == "" {
		return task.HandlerResult{Success: false, Error: "tag is required"}
	}
	cmd := fmt.Sprintf("zfs hold %s %s", shellQuote(m.Tag), shellQuote(m.snapshotRef()))
	return runShell(ctx, cmd, fmt.Sprintf("hold %s placed on %s", m.Tag, m.snapshotRef()))
}

func handleZfsReleaseSnapshot(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodeDatasetMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.Tag == "" {
		return task.HandlerResult{Success: false, Error: "tag is required"}
	}
	cmd := fmt.Sprintf("zfs release %s %s", shellQuote(m.Tag), shellQuote(m.snapshotRef()))
	return runShell(ctx, cmd, fmt.Sprintf("hold %s released from %s", m.Tag, m.snapshotRef()))
}

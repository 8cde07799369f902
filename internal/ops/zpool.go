package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// zpoolHandlers returns the ZFS pool operation handlers.
func zpoolHandlers() map[string]task.Handler {
	return map[string]task.Handler{
		"zpool_create":         handleZpoolCreate,
		"zpool_destroy":        handleZpoolDestroy,
		"zpool_set_properties": handleZpoolSetProperties,
		"zpool_add_vdev":       handleZpoolAddVdev,
		"zpool_remove_vdev":    handleZpoolRemoveVdev,
		"zpool_replace_device": handleZpoolReplaceDevice,
		"zpool_online_device":  handleZpoolOnlineDevice,
		"zpool_offline_device": handleZpoolOfflineDevice,
		"zpool_scrub":          handleZpoolScrub,
		"zpool_stop_scrub":     handleZpoolStopScrub,
		"zpool_export":         handleZpoolExport,
		"zpool_import":         handleZpoolImport,
		"zpool_upgrade":        handleZpoolUpgrade,
	}
}

// poolMetadata is the common shape decoded from a zpool_* task's metadata;
// individual handlers only read the fields they need.
type poolMetadata struct {
	Pool       string            `json:"pool"`
	Vdevs      []string          `json:"vdevs"`
	VdevType   string            `json:"vdev_type"` // "", "mirror", "raidz", "raidz2", "raidz3"
	OldDevice  string            `json:"old_device"`
	NewDevice  string            `json:"new_device"`
	Device     string            `json:"device"`
	Force      bool              `json:"force"`
	Properties map[string]string `json:"properties"`
}

func decodePoolMeta(t store.Task) (poolMetadata, error) {
	var m poolMetadata
	if err := decode(t.Metadata, &m); err != nil {
		return m, err
	}
	if m.Pool == "" {
		m.Pool = t.ZoneName
	}
	return m, nil
}

func handleZpoolCreate(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	vdevSpec := strings.Join(m.Vdevs, " ")
	if m.VdevType != "" {
		vdevSpec = m.VdevType + " " + vdevSpec
	}

	cmd := fmt.Sprintf("zpool create %s %s", shellQuote(m.Pool), vdevSpec)
	return runShell(ctx, cmd, fmt.Sprintf("pool %s created", m.Pool))
}

func handleZpoolDestroy(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	args := ""
	if m.Force {
		args = "-f "
	}
	cmd := fmt.Sprintf("zpool destroy %s%s", args, shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("pool %s destroyed", m.Pool))
}

func handleZpoolSetProperties(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if len(m.Properties) == 0 {
		return task.HandlerResult{Success: false, Error: "no properties given"}
	}

	for k, v := range m.Properties {
		res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec zpool set %s=%s %s", k, shellQuote(v), shellQuote(m.Pool)))
		if !res.Success {
			return task.HandlerResult{Success: false, Error: fmt.Sprintf("setting %s: %s", k, res.Stderr)}
		}
	}
	return task.HandlerResult{Success: true, Message: fmt.Sprintf("pool %s properties updated", m.Pool)}
}

func handleZpoolAddVdev(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	vdevSpec := strings.Join(m.Vdevs, " ")
	if m.VdevType != "" {
		vdevSpec = m.VdevType + " " + vdevSpec
	}
	cmd := fmt.Sprintf("zpool add %s %s", shellQuote(m.Pool), vdevSpec)
	return runShell(ctx, cmd, fmt.Sprintf("vdev added to pool %s", m.Pool))
}

func handleZpoolRemoveVdev(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.Device == "" {
		return task.HandlerResult{Success: false, Error: "device is required"}
	}

	cmd := fmt.Sprintf("zpool remove %s %s", shellQuote(m.Pool), shellQuote(m.Device))
	return runShell(ctx, cmd, fmt.Sprintf("vdev %s removed from pool %s", m.Device, m.Pool))
}

func handleZpoolReplaceDevice(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	if m.OldDevice == "" || m.NewDevice == "" {
		return task.HandlerResult{Success: false, Error: "old_device and new_device are required"}
	}

	cmd := fmt.Sprintf("zpool replace %s %s %s", shellQuote(m.Pool), shellQuote(m.OldDevice), shellQuote(m.NewDevice))
	return runShell(ctx, cmd, fmt.Sprintf("device %s replaced with %s in pool %s", m.OldDevice, m.NewDevice, m.Pool))
}

func handleZpoolOnlineDevice(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zpool online %s %s", shellQuote(m.Pool), shellQuote(m.Device))
	return runShell(ctx, cmd, fmt.Sprintf("device %s onlined in pool %s", m.Device, m.Pool))
}

func handleZpoolOfflineDevice(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zpool offline %s %s", shellQuote(m.Pool), shellQuote(m.Device))
	return runShell(ctx, cmd, fmt.Sprintf("device %s offlined in pool %s", m.Device, m.Pool))
}

func handleZpoolScrub(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zpool scrub %s", shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("scrub started on pool %s", m.Pool))
}

func handleZpoolStopScrub(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zpool scrub -s %s", shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("scrub stopped on pool %s", m.Pool))
}

func handleZpoolExport(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	args := ""
	if m.Force {
		args = "-f "
	}
	cmd := fmt.Sprintf("zpool export %s%s", args, shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("pool %s exported", m.Pool))
}

func handleZpoolImport(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	args := ""
	if m.Force {
		args = "-f "
	}
	cmd := fmt.Sprintf("zpool import %s%s", args, shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("pool %s imported", m.Pool))
}

func handleZpoolUpgrade(ctx context.Context, t store.Task) task.HandlerResult {
	m, err := decodePoolMeta(t)
	if err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}
	cmd := fmt.Sprintf("zpool upgrade %s", shellQuote(m.Pool))
	return runShell(ctx, cmd, fmt.Sprintf("pool %s upgraded", m.Pool))
}

package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

// zoneHandlers returns the zone-lifecycle operation handlers.
func zoneHandlers() map[string]task.Handler {
	return map[string]task.Handler{
		"start":          handleZoneAction("boot"),
		"stop":           handleZoneAction("halt"),
		"restart":        handleZoneRestart,
		"delete":         handleZoneDelete,
		"discover":       handleZoneDiscover,
		"zone_create":    handleZoneCreate,
		"zone_modify":    handleZoneModify,
		"zone_provision_create": handleZoneProvisionCreate,
	}
}

// handleZoneAction returns a handler for a simple `zoneadm -z <zone>
// <verb>` invocation (start->boot, stop->halt).
func handleZoneAction(verb string) task.Handler {
	return func(ctx context.Context, t store.Task) task.HandlerResult {
		cmd := fmt.Sprintf("zoneadm -z %s %s", shellQuote(t.ZoneName), verb)
		return runShell(ctx, cmd, fmt.Sprintf("zone %s %sed", t.ZoneName, verb))
	}
}

// zoneMetadata holds the force flag accepted by delete.
type zoneMetadata struct {
	Force bool `json:"force"`
}

func handleZoneRestart(ctx context.Context, t store.Task) task.HandlerResult {
	haltRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec zoneadm -z %s halt", shellQuote(t.ZoneName)))
	if !haltRes.Success && !strings.Contains(haltRes.Stderr, "not running") {
		return task.HandlerResult{Success: false, Error: "halt failed: " + haltRes.Stderr}
	}

	return runShell(ctx, fmt.Sprintf("zoneadm -z %s boot", shellQuote(t.ZoneName)), fmt.Sprintf("zone %s restarted", t.ZoneName))
}

func handleZoneDelete(ctx context.Context, t store.Task) task.HandlerResult {
	var meta zoneMetadata
	_ = decode(t.Metadata, &meta)

	haltRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec zoneadm -z %s halt", shellQuote(t.ZoneName)))
	if !haltRes.Success && !strings.Contains(haltRes.Stderr, "not running") && !meta.Force {
		return task.HandlerResult{Success: false, Error: "halt before delete failed: " + haltRes.Stderr}
	}

	uninstallArgs := "uninstall"
	if meta.Force {
		uninstallArgs = "uninstall -F"
	}

	uninstallRes := cmdrunner.Run(ctx, fmt.Sprintf("pfexec zoneadm -z %s %s", shellQuote(t.ZoneName), uninstallArgs))
	if !uninstallRes.Success && !strings.Contains(uninstallRes.Stderr, "not installed") {
		return task.HandlerResult{Success: false, Error: "uninstall failed: " + uninstallRes.Stderr}
	}

	return runShell(ctx, fmt.Sprintf("zonecfg -z %s delete -F", shellQuote(t.ZoneName)), fmt.Sprintf("zone %s deleted", t.ZoneName))
}

// handleZoneDiscover runs `zoneadm list -cp` and reconciles the Zone
// table: zones no longer reported live are marked is_orphaned rather
// than removed, so operators keep history for zones that disappear.
// It reads the Repo from discoverRepo, set once by WireDiscover.
var discoverRepo *store.Repo

// WireDiscover injects the repo dependency discover needs; called once
// at startup from cmd/zoneweaverd.
func WireDiscover(repo *store.Repo) {
	discoverRepo = repo
}

func handleZoneDiscover(ctx context.Context, t store.Task) task.HandlerResult {
	if discoverRepo == nil {
		return task.HandlerResult{Success: false, Error: "discover handler not wired to a repo"}
	}

	res := cmdrunner.Run(ctx, "pfexec zoneadm list -cp")
	if !res.Success {
		return task.HandlerResult{Success: false, Error: "zoneadm list failed: " + res.Error}
	}

	seen := map[string]bool{}
	now := time.Now()

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		name := fields[1]
		if name == "global" {
			continue
		}
		status := fields[2]
		seen[name] = true

		existing, found, _ := discoverRepo.Zones.Get(name)
		if !found {
			existing = store.Zone{Name: name}
		}
		existing.Status = store.ZoneStatus(status)
		existing.IsOrphaned = false
		existing.LastSeen = now
		discoverRepo.Zones.Put(name, existing)
	}

	discoverRepo.Zones.UpdateWhere(
		func(z store.Zone) bool { return !seen[z.Name] },
		func(z store.Zone) store.Zone { z.IsOrphaned = true; return z },
	)

	return task.HandlerResult{Success: true, Message: fmt.Sprintf("discovered %d zones", len(seen))}
}

// zoneCreateMetadata is the accepted shape for zone_create's metadata,
// mirroring the opaque `configuration` JSON stored on Zone rows.
type zoneCreateMetadata struct {
	Brand    string `json:"brand"`
	RAM      string `json:"ram"`
	VCPUs    int    `json:"vcpus"`
	Autoboot bool   `json:"autoboot"`
	Priority int    `json:"priority"`
}

func handleZoneCreate(ctx context.Context, t store.Task) task.HandlerResult {
	var meta zoneCreateMetadata
	if err := decode(t.Metadata, &meta); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	cmd := fmt.Sprintf(
		"zadm create -b %s %s",
		shellQuote(meta.Brand),
		shellQuote(t.ZoneName),
	)

	return runShell(ctx, cmd, fmt.Sprintf("zone %s created", t.ZoneName))
}

func handleZoneModify(ctx context.Context, t store.Task) task.HandlerResult {
	var meta map[string]interface{}
	if err := decode(t.Metadata, &meta); err != nil {
		return task.HandlerResult{Success: false, Error: err.Error()}
	}

	var sets []string
	for k, v := range meta {
		sets = append(sets, fmt.Sprintf("set %s=%v;", k, v))
	}

	cmd := fmt.Sprintf("zonecfg -z %s '%s'", shellQuote(t.ZoneName), strings.Join(sets, " "))
	return runShell(ctx, cmd, fmt.Sprintf("zone %s modified", t.ZoneName))
}

// handleZoneProvisionCreate composes a zone_create followed by a
// zone_setup sub-task chained behind a pre-provision snapshot, so a
// failed provision can be undone by enqueueing zfs_rollback_snapshot to
// @pre-provision. Wired via WireProvisioner.
var provisionRunner TaskRunner

func WireProvisioner(r TaskRunner) { provisionRunner = r }

func handleZoneProvisionCreate(ctx context.Context, t store.Task) task.HandlerResult {
	createResult := handleZoneCreate(ctx, t)
	if !createResult.Success {
		return createResult
	}

	if provisionRunner != nil {
		snapMeta := fmt.Sprintf(`{"dataset":"zones/%s","snapshot_name":"pre-provision"}`, t.ZoneName)
		snapID, _, err := provisionRunner.Enqueue(t.ZoneName, "zfs_create_snapshot", t.CreatedBy, store.PriorityHigh, "", snapMeta)
		if err != nil {
			return task.HandlerResult{Success: false, Error: "enqueueing pre-provision snapshot: " + err.Error()}
		}

		setupID, _, err := provisionRunner.Enqueue(t.ZoneName, "zone_setup", t.CreatedBy, store.PriorityHigh, snapID, t.Metadata)
		if err != nil {
			return task.HandlerResult{Success: false, Error: "enqueueing zone_setup: " + err.Error()}
		}

		return task.HandlerResult{Success: true, Message: fmt.Sprintf("provisioning chained: snapshot=%s setup=%s", snapID, setupID)}
	}

	return task.HandlerResult{Success: true, Message: "zone created; no provisioner wired for chained setup"}
}

// shellQuote wraps a token in single quotes, escaping embedded quotes
// (' -> '\''). Used whenever a handler interpolates a zone name or
// value into a shell command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

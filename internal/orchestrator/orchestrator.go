// Package orchestrator decides whether this daemon or the native
// `svc:/system/zones:default` SMF service owns zone autoboot, and drives
// priority-grouped start/stop sequences through the task engine when it
// does.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub001/internal/cmdrunner"
	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
)

const zonesSMF = "svc:/system/zones:default"

// Enqueuer is the narrow slice of *task.Engine the orchestrator needs.
type Enqueuer interface {
	Enqueue(zoneName, operation, createdBy string, priority store.Priority, dependsOn, metadata string) (id string, alreadyQueued bool, err error)
}

// Orchestrator owns the enable/disable toggle and the startup/shutdown
// planner.
type Orchestrator struct {
	repo   *store.Repo
	engine Enqueuer
}

// New builds an Orchestrator bound to repo and engine.
func New(repo *store.Repo, engine Enqueuer) *Orchestrator {
	return &Orchestrator{repo: repo, engine: engine}
}

// Controller reports who currently owns zone autoboot: "system/zones" if
// the native SMF service is online, "self" otherwise.
type Controller string

const (
	ControllerSystemZones Controller = "system/zones"
	ControllerSelf        Controller = "self"
)

// State is the read-only projection of the orchestrator's current
// ownership and configuration.
type State struct {
	Controller Controller `json:"controller"`
	Enabled    bool       `json:"enabled"`
}

// QueryState reads SMF svc:/system/zones:default to determine who
// controls zone autoboot.
func QueryState(ctx context.Context) (State, error) {
	res := cmdrunner.Run(ctx, fmt.Sprintf("svcs -H -o state %s", zonesSMF))
	online := res.Success && strings.TrimSpace(res.Stdout) == "online"

	if online {
		return State{Controller: ControllerSystemZones, Enabled: false}, nil
	}
	return State{Controller: ControllerSelf, Enabled: config.Get().Zones.Orchestration.Enabled}, nil
}

// Enable takes over zone autoboot: persist the flag, snapshot currently
// running zones, disable the native SMF service, then enqueue `start`
// tasks for those zones in priority order (highest first).
func (o *Orchestrator) Enable(ctx context.Context) error {
	if err := config.SetOrchestrationEnabled(true); err != nil {
		return fmt.Errorf("persisting orchestration.enabled: %w", err)
	}

	running, err := o.runningZones()
	if err != nil {
		return fmt.Errorf("listing running zones: %w", err)
	}

	res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm disable %s", zonesSMF))
	if !res.Success {
		minilog.Warn("orchestrator: disabling %s: %s", zonesSMF, res.Stderr)
	}

	return o.runPlan(running, "start", descending)
}

// Disable relinquishes zone autoboot back to the native SMF service.
func (o *Orchestrator) Disable(ctx context.Context) error {
	if err := config.SetOrchestrationEnabled(false); err != nil {
		return fmt.Errorf("persisting orchestration.enabled: %w", err)
	}

	res := cmdrunner.Run(ctx, fmt.Sprintf("pfexec svcadm enable %s", zonesSMF))
	if !res.Success {
		return fmt.Errorf("enabling %s: %s", zonesSMF, res.Stderr)
	}
	return nil
}

// zoneConfig is the subset of Zone.Configuration's opaque JSON the
// planner reads.
type zoneConfig struct {
	Priority int `json:"priority"`
}

func zonePriority(z store.Zone) int {
	if z.Configuration == "" {
		return 50
	}
	var c zoneConfig
	if err := json.Unmarshal([]byte(z.Configuration), &c); err != nil || c.Priority == 0 {
		return 50
	}
	return c.Priority
}

func (o *Orchestrator) runningZones() ([]store.Zone, error) {
	return o.repo.Zones.FindAllWhere(func(z store.Zone) bool {
		return z.Status == store.ZoneRunning && !z.IsOrphaned
	}, nil)
}

type ordering int

const (
	descending ordering = iota
	ascending
)

// PriorityGroup is one group of same-priority zones in the computed
// plan, surfaced read-only by GET /zones/priorities.
type PriorityGroup struct {
	Priority int      `json:"priority"`
	Zones    []string `json:"zones"`
}

// Plan groups zones by identical priority and orders the groups per the
// requested direction: descending for startup, ascending for shutdown.
func Plan(zones []store.Zone, dir ordering) []PriorityGroup {
	byPriority := map[int][]string{}
	for _, z := range zones {
		p := zonePriority(z)
		byPriority[p] = append(byPriority[p], z.Name)
	}

	var priorities []int
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	if dir == descending {
		for i, j := 0, len(priorities)-1; i < j; i, j = i+1, j-1 {
			priorities[i], priorities[j] = priorities[j], priorities[i]
		}
	}

	var groups []PriorityGroup
	for _, p := range priorities {
		members := byPriority[p]
		sort.Strings(members)
		groups = append(groups, PriorityGroup{Priority: p, Zones: members})
	}
	return groups
}

// Priorities returns the read-only startup-order projection.
func (o *Orchestrator) Priorities() ([]PriorityGroup, error) {
	all, err := o.repo.Zones.FindAllWhere(func(z store.Zone) bool { return !z.IsOrphaned }, nil)
	if err != nil {
		return nil, err
	}
	return Plan(all, descending), nil
}

// runPlan enqueues operation ("start" or "stop") tasks for zones grouped
// by priority, waiting priority_delay between groups. Shutdown failure
// policy ("continue" default or "abort") only applies to operation
// "stop".
func (o *Orchestrator) runPlan(zones []store.Zone, operation string, dir ordering) error {
	groups := Plan(zones, dir)
	cfg := config.Get()
	delay := time.Duration(cfg.Zones.Orchestration.PriorityDelaySeconds) * time.Second
	abort := operation == "stop" && cfg.Zones.Orchestration.ShutdownFailurePolicy == "abort"

	for i, g := range groups {
		var groupFailed bool
		for _, zoneName := range g.Zones {
			_, _, err := o.engine.Enqueue(zoneName, operation, "orchestrator", store.PriorityHigh, "", "")
			if err != nil {
				minilog.Error("orchestrator: enqueueing %s for zone %s: %v", operation, zoneName, err)
				groupFailed = true
			}
		}

		if groupFailed && abort {
			return fmt.Errorf("aborting shutdown plan after group priority=%d failed to enqueue", g.Priority)
		}

		if i < len(groups)-1 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

// Shutdown runs the shutdown-direction plan (ascending priority) across
// the given zones, honoring the configured failure policy.
func (o *Orchestrator) Shutdown(zones []store.Zone) error {
	return o.runPlan(zones, "stop", ascending)
}

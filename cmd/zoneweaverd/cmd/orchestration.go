package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ops"
	"github.com/Makr91/zoneweaver-api-sub001/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
)

var orchestrationCmd = &cobra.Command{
	Use:   "orchestration",
	Short: "Inspect or toggle zone autoboot orchestration",
}

var orchestrationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether zoneweaverd or svc:/system/zones owns autoboot",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := orchestrator.QueryState(context.Background())
		if err != nil {
			return err
		}

		if state.Controller == orchestrator.ControllerSelf && state.Enabled {
			color.Green("controller=%s enabled=%v", state.Controller, state.Enabled)
		} else {
			color.Yellow("controller=%s enabled=%v", state.Controller, state.Enabled)
		}
		return nil
	},
}

var orchestrationPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the priority-grouped startup plan without enqueuing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			groups, err := o.Priorities()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Group", "Priority", "Zones"})
			for i, g := range groups {
				table.Append([]string{
					strconv.Itoa(i + 1),
					strconv.Itoa(g.Priority),
					strings.Join(g.Zones, ", "),
				})
			}
			table.Render()

			fmt.Printf("%d groups, priority delay %ds between groups\n",
				len(groups), config.Get().Zones.Orchestration.PriorityDelaySeconds)
			return nil
		})
	},
}

func withOrchestrator(fn func(*orchestrator.Orchestrator) error) error {
	cfg := config.Get()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	repo, err := store.NewRepo(db)
	if err != nil {
		return err
	}

	engine := task.NewEngine(repo, ops.Registry(), 1)
	return fn(orchestrator.New(repo, engine))
}

var orchestrationEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Take over zone autoboot from svc:/system/zones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			return o.Enable(context.Background())
		})
	},
}

var orchestrationDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Relinquish zone autoboot back to svc:/system/zones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(func(o *orchestrator.Orchestrator) error {
			return o.Disable(context.Background())
		})
	},
}

func init() {
	orchestrationCmd.AddCommand(orchestrationStatusCmd, orchestrationPlanCmd, orchestrationEnableCmd, orchestrationDisableCmd)
	rootCmd.AddCommand(orchestrationCmd)
}

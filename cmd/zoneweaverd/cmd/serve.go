package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Makr91/zoneweaver-api-sub001/internal/config"
	"github.com/Makr91/zoneweaver-api-sub001/internal/minilog"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ops"
	"github.com/Makr91/zoneweaver-api-sub001/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api-sub001/internal/ptymux"
	"github.com/Makr91/zoneweaver-api-sub001/internal/recipe"
	"github.com/Makr91/zoneweaver-api-sub001/internal/storagepipeline"
	"github.com/Makr91/zoneweaver-api-sub001/internal/store"
	"github.com/Makr91/zoneweaver-api-sub001/internal/task"
	"github.com/Makr91/zoneweaver-api-sub001/internal/vncsup"
	"github.com/Makr91/zoneweaver-api-sub001/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the zoneweaverd control-plane daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	ptyMux := ptymux.New(repo)
	ptyMux.StartGC()
	defer ptyMux.Stop()

	interp := recipe.New(ptyMux, 30*time.Minute)

	ops.WireDiscover(repo)
	ops.WireNetworkRepo(repo)
	ops.WireInterpreter(interp, repo)

	engine := task.NewEngine(repo, ops.Registry(), cfg.TaskEngine.Workers)
	ops.WireProvisioner(engine)

	orch := orchestrator.New(repo, engine)
	vnc := vncsup.New(repo)
	pipeline := storagepipeline.New(repo, cfg.Retention.StorageDays)

	server := web.New(repo, engine, orch, vnc, ptyMux, interp)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)
	defer engine.Stop()

	pipeline.Start(ctx)
	defer pipeline.Stop()

	vnc.RecoverOnStartup()
	vnc.StartCleanupLoop(ctx)

	if _, _, err := engine.Enqueue("system", "discover", "startup", store.PriorityMedium, "", ""); err != nil {
		minilog.Warn("serve: enqueueing startup discover: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: server.Router(),
	}

	go func() {
		minilog.Info("serve: listening on %s", cfg.Server.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			minilog.Error("serve: http server: %v", err)
		}
	}()

	<-ctx.Done()
	minilog.Info("serve: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		minilog.Warn("serve: http shutdown: %v", err)
	}

	return nil
}

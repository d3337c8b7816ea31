package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/archive"
	"github.com/kylegalloway/cilearn/internal/checkpoint"
	"github.com/kylegalloway/cilearn/internal/config"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/locks"
	"github.com/kylegalloway/cilearn/internal/metrics"
	"github.com/kylegalloway/cilearn/internal/orchestrator"
	"github.com/kylegalloway/cilearn/internal/state"
	"github.com/kylegalloway/cilearn/internal/telemetry"
	"github.com/kylegalloway/cilearn/internal/ui"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Learn every task in order and report the final metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if l, err := buildLogger(level, cfg.Logging.Format); err == nil {
			logger = l
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rs, err := executeRun(ctx, cfg, configPath, logger)
		if err != nil {
			return err
		}
		if !runQuiet {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSummary(rs))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print progress or the summary table")
}

// executeRun wires every collaborator from cfg and drives one full run.
func executeRun(ctx context.Context, cfg *config.Config, cfgPath string, log *zap.Logger) (ui.RunSummary, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(resolve(cfgPath, cfg.Run.DumpPath), cfg.Run.Name)
	log = log.With(zap.String("run_id", runID), zap.String("run", cfg.Run.Name))

	if cfg.Telemetry.Trace {
		shutdown, err := telemetry.InitTracing("cilearn", runID, os.Stderr)
		if err != nil {
			return ui.RunSummary{}, err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("flush spans", zap.Error(err))
			}
		}()
	}

	var ckpts *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		ckpts = checkpoint.NewStore(runDir, cfg.Checkpoint.MinDiskMB)
	}
	stateMgr := state.NewManager(runDir)

	lock, err := locks.Acquire(runDir, runID)
	if err != nil {
		return ui.RunSummary{}, err
	}
	defer lock.Release()

	cleanup := orchestrator.CleanupStaleState(runDir, ckpts, stateMgr, log)
	if msg := orchestrator.FormatCleanupResult(cleanup); msg != "Clean startup, no stale state found." {
		log.Info("startup cleanup", zap.String("result", msg))
	}
	if cleanup.RecoveryState != nil {
		// A new run starts from task 0; the old state only describes what was lost.
		stateMgr.Remove()
	}

	stream, err := loadStream(cfg, cfgPath)
	if err != nil {
		return ui.RunSummary{}, err
	}
	l, err := buildLearner(cfg, cfgPath, stream, log)
	if err != nil {
		return ui.RunSummary{}, err
	}

	sinks := telemetry.Multi{telemetry.NewZapSink(log.Named("metrics"))}
	if cfg.Telemetry.Prometheus {
		ps, err := telemetry.NewPrometheusSink(cfg.Telemetry.Namespace, cfg.Run.Name)
		if err != nil {
			return ui.RunSummary{}, err
		}
		sinks = append(sinks, ps)
		srv := serveMetrics(cfg.Telemetry.ListenAddr, ps.Handler(), log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	var store archive.Provider = archive.NoopProvider{}
	if cfg.Archive.Enabled {
		bp, err := archive.OpenBadger(archive.Options{
			Path:   resolve(cfgPath, cfg.Archive.Path),
			Logger: log,
		})
		if err != nil {
			return ui.RunSummary{}, err
		}
		defer bp.Close()
		store = bp
	}

	started := time.Now()
	ctrl, err := orchestrator.New(l, orchestrator.Options{
		RunID:       runID,
		RunName:     cfg.Run.Name,
		NumTask:     cfg.Continual.NumTask,
		Mode:        cfg.Continual.Mode(),
		Class:       cfg.Continual.Granularity(),
		EvalPhase:   cfg.Continual.Phase(),
		Sink:        sinks,
		Archive:     store,
		Checkpoints: ckpts,
		State:       stateMgr,
		Logger:      log,
		OnTaskEnd: func(ts learner.TaskState, accs []float64) {
			if runQuiet {
				return
			}
			var sum float64
			for _, a := range accs {
				sum += a
			}
			fmt.Println(ui.FormatProgress(ui.ProgressState{
				Task:       ts.TaskID,
				NumTask:    ts.NumTask,
				GlobalStep: ts.GlobalStep,
				SeenAcc:    sum / float64(len(accs)),
				StartTime:  started,
			}))
		},
	})
	if err != nil {
		return ui.RunSummary{}, err
	}

	if err := ctrl.RunIncrementalTraining(ctx); err != nil {
		return ui.RunSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}
	summary, err := ctrl.FinishTraining(ctx)
	if err != nil {
		return ui.RunSummary{}, err
	}

	return ui.RunSummary{
		RunID:          runID,
		Name:           cfg.Run.Name,
		ILMode:         string(cfg.Continual.Mode()),
		Classification: string(cfg.Continual.Granularity()),
		Duration:       time.Since(started),
		Rows:           ctrl.Matrix().Value(),
		Summary:        &summary,
	}, nil
}

// serveMetrics exposes /metrics until the returned server is shut down.
func serveMetrics(addr string, h http.Handler, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// summaryFromArchive recomputes a stored run's metrics from its rows.
func summaryFromArchive(run archive.Run) (ui.RunSummary, error) {
	rs := ui.RunSummary{
		RunID:          run.Meta.ID,
		Name:           run.Meta.Name,
		ILMode:         run.Meta.ILMode,
		Classification: run.Meta.Classification,
		Rows:           run.Rows,
	}
	if run.Finished() {
		rs.Duration = run.FinishedAt.Sub(run.Meta.StartedAt)
	}
	if len(run.Rows) == run.Meta.NumTask && len(run.Rows) > 0 {
		s, err := metrics.Compute(run.Rows)
		if err != nil {
			return rs, fmt.Errorf("recompute metrics for %s: %w", run.Meta.ID, err)
		}
		rs.Summary = &s
	}
	return rs, nil
}

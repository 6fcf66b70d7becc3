package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconciliation-workflow/internal/api"
	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/jobs"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review workflow HTTP API",
	Long: `Serve loads the matched transactions from the configured store and exposes
the review workflow over HTTP. The daily summary and audit retry jobs run
in the background.

Examples:
  reconciler serve
  reconciler serve --addr :9090 --config configs/reconciler.yaml
  RECONCILER_DATABASE_DRIVER=postgres RECONCILER_DATABASE_DSN=... reconciler serve`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("seed", "", "seed file (overrides database.seed_file)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("database.seed_file", serveCmd.Flags().Lookup("seed"))
}

// server is the assembled process: HTTP handlers plus the job scheduler
type server struct {
	app       *application
	ingest    *ingest.Service
	scheduler *jobs.Scheduler
	http      *http.Server
	logger    logger.Logger
}

func buildServer(ctx context.Context) (*server, error) {
	log := logger.GetGlobalLogger()
	app, err := openApplication(ctx, settings, log)
	if err != nil {
		return nil, err
	}

	statements, err := ingest.NewService(app.store, app.matcher, settings.IngestConfig())
	if err != nil {
		app.close()
		return nil, err
	}
	statements.SetLogger(log)

	handlers, err := api.New(api.Deps{
		Workspace:  app.workspace,
		Ingest:     statements,
		Notify:     app.notify,
		Logger:     log,
		Recipients: settings.Jobs.Recipients,
	}, settings.APIConfig())
	if err != nil {
		app.close()
		return nil, err
	}

	scheduler, err := jobs.NewScheduler(app.workspace, app.notify, settings.Jobs, log)
	if err != nil {
		app.close()
		return nil, err
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	return &server{
		app:       app,
		ingest:    statements,
		scheduler: scheduler,
		logger:    log.WithComponent("server"),
		http: &http.Server{
			Addr:              settings.Server.Addr,
			Handler:           handlers.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// runServe blocks until ctx is cancelled or the listener fails
func runServe(ctx context.Context) error {
	srv, err := buildServer(ctx)
	if err != nil {
		return err
	}
	defer srv.app.close()

	srv.scheduler.Start()
	listenErr := make(chan error, 1)
	go func() {
		srv.logger.WithField("addr", srv.http.Addr).Info("HTTP server listening")
		if err := srv.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		<-srv.scheduler.Stop().Done()
		if err != nil {
			return errors.CollaboratorFailure(errors.CodeServiceUnavailable, "http", "listen on "+srv.http.Addr, err).
				WithSuggestion("choose a free port with --addr or server.addr")
		}
		return nil
	case <-ctx.Done():
	}

	srv.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		srv.logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	<-srv.scheduler.Stop().Done()
	srv.ingest.Wait()
	if n, err := srv.app.workspace.FlushPendingAudit(shutdownCtx); err != nil {
		srv.logger.WithError(err).Error("Audit entries still pending at exit")
	} else if n > 0 {
		srv.logger.WithField("flushed", n).Info("Pending audit entries recorded")
	}
	srv.logger.Info("Server stopped")
	return nil
}

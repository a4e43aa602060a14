package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/surfwatch/internal/api"
	"github.com/ppiankov/surfwatch/internal/logging"
	"github.com/ppiankov/surfwatch/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with background refresh and sync jobs",
	RunE:  serveAction,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(0)
	if err := registerJobs(sched, a); err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	syncDone := make(chan struct{})
	defer func() { <-syncDone }()
	go func() {
		defer close(syncDone)
		if err := sched.RunNow(ctx, "forum-sync", forumSyncJob(a)); err != nil {
			logging.Warn().Err(err).Msg("initial forum sync failed")
		}
	}()

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		if err := a.refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("refresher stopped")
		}
	}()

	listen := cfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}
	srv := &http.Server{
		Addr: listen,
		Handler: api.NewRouter(a.svc, api.Config{
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			RequestsPerMinute: cfg.Server.RequestsPerMin,
			ForumPerPage:      cfg.Forum.PerPage,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", listen).
			Bool("reddit_api", a.api.HasCredentials()).
			Bool("twitter", a.twitter.Configured()).
			Int("communities", len(cfg.Reddit.Communities)).
			Msg("surfwatch listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			<-refreshDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http shutdown")
	}
	<-refreshDone
	return nil
}

func forumSyncJob(a *app) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := a.svc.SyncForum(ctx, a.cfg.Forum.Pages, a.cfg.Forum.PerPage)
		return err
	}
}

// registerJobs schedules the store sync, cache sweep and prune jobs.
func registerJobs(sched *scheduler.Scheduler, a *app) error {
	cfg := a.cfg

	if err := sched.AddInterval("forum-sync", cfg.Forum.SyncInterval.Duration, forumSyncJob(a)); err != nil {
		return err
	}

	if a.twitter.Configured() {
		if err := sched.AddInterval("twitter-sync", cfg.Twitter.SyncInterval.Duration, func(ctx context.Context) error {
			_, err := a.svc.SyncMicroblog(ctx, cfg.Twitter.Query, cfg.Twitter.MaxResults)
			return err
		}); err != nil {
			return err
		}
	} else {
		logging.Info().Str("env", cfg.Twitter.BearerTokenEnv).Msg("twitter bearer token not set, tweet sync disabled")
	}

	if err := sched.AddInterval("cache-sweep", cfg.Cache.SweepInterval.Duration, func(context.Context) error {
		if n := a.svc.Sweep(); n > 0 {
			logging.Debug().Int("evicted", n).Msg("cache sweep")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := sched.AddJob("prune", "@daily", func(ctx context.Context) error {
		n, err := a.store.PruneOld(ctx, cfg.Storage.RetainDays)
		if err == nil && n > 0 {
			logging.Info().Int64("pruned", n).Int("retain_days", cfg.Storage.RetainDays).Msg("pruned old posts")
		}
		return err
	}); err != nil {
		return err
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/market-update/internal/metrics"
	"github.com/JakeFAU/market-update/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the quote fetcher and digest mailer on their cron triggers",
		Long: `Keeps both jobs on their cron schedules (default 21:30 and 21:35,
Monday to Friday) and exposes /metrics and /healthz on the metrics port.
A failed run is logged; the next trigger is the retry.`,
		RunE: runScheduleCommand,
	}
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()

	fetcher, err := appInstance.QuoteFetcher(cmd.Context())
	if err != nil {
		return fmt.Errorf("init quote fetcher: %w", err)
	}
	mailer, err := appInstance.DigestMailer(cmd.Context())
	if err != nil {
		return fmt.Errorf("init digest mailer: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{Location: loc, RunOnStartup: cfg.Schedule.RunOnStartup}, []scheduler.Job{
		{Name: "fetch-quotes", Spec: cfg.Schedule.FetchSpec, Run: func(ctx context.Context) error {
			_, err := fetcher.Run(ctx)
			return err
		}},
		{Name: "send-digest", Spec: cfg.Schedule.DigestSpec, Run: func(ctx context.Context) error {
			_, err := mailer.Run(ctx)
			return err
		}},
	}, appInstance.Logger())
	if err != nil {
		return err
	}

	ops := chi.NewRouter()
	ops.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	ops.Handle("/metrics", metrics.Handler())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	opsErr := make(chan error, 1)
	if cfg.Schedule.MetricsPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.Schedule.MetricsPort)
		go func() {
			err := serveHTTP(ctx, addr, ops, appInstance.Logger())
			if err != nil {
				cancel()
			}
			opsErr <- err
		}()
	} else {
		close(opsErr)
	}

	runErr := sched.Run(ctx)
	cancel()
	if err := <-opsErr; err != nil {
		return err
	}
	return runErr
}

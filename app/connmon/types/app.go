package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xrplink/xrplink/pkg/client"
	"go.uber.org/zap"
)

type App struct {
	// Client owns endpoint failover, caching and submission tracking.
	Client *client.Client
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server

	// Cron is the scheduler that triggers probe sweeps at specified intervals, according to CronSpec.
	Cron     *cron.Cron
	CronSpec string
}

// SetupScheduler sets up the cron scheduler for periodic probe sweeps.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		state := a.Client.Refresh(rctx)
		logger.Info("[connmon] probe sweep", "state", state.String())
	})
	return err
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-a.Cron.Stop().Done()
	a.Client.Close()

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

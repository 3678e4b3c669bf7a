package connmon

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xrplink/xrplink/app/connmon/types"
	"github.com/xrplink/xrplink/pkg/client"
	"github.com/xrplink/xrplink/pkg/endpoint"
	"github.com/xrplink/xrplink/pkg/logging"
	"github.com/xrplink/xrplink/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	urls := utils.Dedup(strings.Split(utils.Env("XRPL_ENDPOINTS", "https://s.altnet.rippletest.net:51234"), ","))
	specs := make([]endpoint.Spec, 0, len(urls))
	for i, u := range urls {
		specs = append(specs, endpoint.Spec{URL: strings.TrimSpace(u), Priority: i})
	}

	cli, err := client.New(client.Opts{
		Endpoints:       specs,
		DisableAfter:    utils.EnvInt("XRPL_DISABLE_AFTER", 0),
		ProbeTimeout:    utils.EnvDuration("XRPL_PROBE_TIMEOUT", 4*time.Second),
		PerCallTimeout:  utils.EnvDuration("XRPL_CALL_TIMEOUT", 10*time.Second),
		ReprobeInterval: utils.EnvDuration("XRPL_REPROBE_INTERVAL", 20*time.Second),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Unable to initialize ledger client", zap.Error(err))
	}

	app := &types.App{
		Client:   cli,
		Logger:   logger,
		CronSpec: utils.Env("PROBE_CRON", "*/15 * * * * *"),
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger, app.CronSpec); err != nil {
		logger.Fatal("Unable to initialize probe scheduler", zap.Error(err))
	}

	state := cli.Connect(ctx)
	logger.Info("Initial probe sweep complete", zap.String("state", state.String()))

	return app
}

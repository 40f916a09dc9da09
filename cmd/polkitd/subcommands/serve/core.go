//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/polkit-go/polkitd/cmd/polkitd/demoresolver"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/authority"
	"github.com/polkit-go/polkitd/pkg/polkit/boundary"
	"github.com/polkit-go/polkitd/pkg/polkit/boundary/httpapi"
	"github.com/polkit-go/polkitd/pkg/polkit/config"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("polkitd")

const agent string = "serve"

// Execute runs the serve command: it loads the action registry and rule
// host from the configured directories, starts the demo HTTP boundary, and
// blocks until an interrupt signal arrives.
func Execute(ctx context.Context, cmd *cli.Command) error {
	if err := config.Load(); err != nil {
		return err
	}

	ruleDirs := config.VConfig.GetStringSlice(config.RuleDirs)
	policyDirs := config.VConfig.GetStringSlice(config.PolicyDirs)
	if dirs := cmd.StringSlice("rules-dir"); len(dirs) > 0 {
		ruleDirs = dirs
	}
	if dirs := cmd.StringSlice("policy-dir"); len(dirs) > 0 {
		policyDirs = dirs
	}

	resolver := demoresolver.New()

	auth, err := authority.New(authority.Options{
		RuleDirs:    ruleDirs,
		PolicyDirs:  policyDirs,
		OverrideDir: config.VConfig.GetString(config.OverrideDir),
		Resolver:    resolver,
		Passwd:      resolver,
		RuleHostOptions: ruleshost.Options{
			RunawayTimeout:    config.VConfig.GetDuration(config.RunawayKillerTimeout),
			AllowSpawn:        config.VConfig.GetBool(config.AllowSpawn),
			SpawnTimeout:      config.VConfig.GetDuration(config.SpawnTimeout),
			NetgroupSupported: config.VConfig.GetBool(config.NetgroupSupported),
			Passwd:            resolver,
		},
		TempCacheSweepInterval: config.VConfig.GetDuration(config.TempCacheSweepInterval),
	})
	if err != nil {
		return err
	}
	defer auth.Close()

	b := boundary.New(auth, "polkitd", cmd.Root().Version, []string{"eager-authorization"})

	server, err := httpapi.CreateServer(b, cmd.Int("port"))
	if err != nil {
		return err
	}

	logger.Info(agent, "start", "polkitd serving")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info(agent, "shutdown", "shutting down server...")

	if err := server.Stop(ctx); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "server exited gracefully")
	return nil
}

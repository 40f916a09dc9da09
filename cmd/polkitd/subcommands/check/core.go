//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package check implements polkitd's "check" subcommand: a one-shot
// authorization decision evaluated directly against the action registry and
// rule host, without starting any server. It mirrors the teacher's
// "test decision" subcommand, trading PORC/Rego evaluation for a single
// check_authorization call.
package check

import (
	"context"
	"fmt"
	"strings"

	"github.com/polkit-go/polkitd/cmd/polkitd/demoresolver"
	"github.com/polkit-go/polkitd/internal/engine"
	"github.com/polkit-go/polkitd/pkg/polkit/authority"
	"github.com/polkit-go/polkitd/pkg/polkit/config"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
	"github.com/urfave/cli/v3"
)

// Execute evaluates a single check_authorization call for --pid against
// --action and prints the resulting decision to stdout.
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
	})
	if err != nil {
		return err
	}
	defer auth.Close()

	pid := cmd.Int("pid")
	subject, err := identity.NewUnixProcess(int(pid), 0, nil)
	if err != nil {
		return err
	}

	caller := subject

	details := identity.Details{}
	for _, kv := range cmd.StringSlice("detail") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --detail %q: expected key=value", kv)
		}
		details[parts[0]] = parts[1]
	}

	flags := engine.Flags(0)
	if cmd.Bool("allow-interaction") {
		flags |= engine.FlagAllowUserInteraction
	}

	result, err := auth.CheckAuthorization(ctx, engine.Request{
		Caller:   caller,
		Subject:  subject,
		ActionID: cmd.String("action"),
		Details:  details,
		Flags:    flags,
	})
	if err != nil {
		return err
	}

	fmt.Printf("is_authorized=%t is_challenge=%t\n", result.IsAuthorized, result.IsChallenge)
	return nil
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package check

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name: "check",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pid", Required: true},
			&cli.StringFlag{Name: "action", Required: true},
			&cli.StringSliceFlag{Name: "detail"},
			&cli.BoolFlag{Name: "allow-interaction"},
			&cli.StringSliceFlag{Name: "rules-dir"},
			&cli.StringSliceFlag{Name: "policy-dir"},
		},
		Action: Execute,
	}
}

func TestCheckSubcommandEvaluatesAuthorization(t *testing.T) {
	policyDir := t.TempDir()
	ruleDir := t.TempDir()

	writeFile(t, policyDir, "test.policy", `<policyconfig>
  <action id="org.example.foo">
    <message>m</message>
    <defaults><allow_any>yes</allow_any></defaults>
  </action>
</policyconfig>`)
	writeFile(t, ruleDir, "10-test.rules", `polkit.addRule(function() { return null; });`)

	cmd := newCommand()
	err := cmd.Run(context.Background(), []string{
		"check",
		"--pid", "1",
		"--action", "org.example.foo",
		"--rules-dir", ruleDir,
		"--policy-dir", policyDir,
	})
	require.NoError(t, err)
}

func TestCheckSubcommandRejectsMalformedDetail(t *testing.T) {
	policyDir := t.TempDir()
	ruleDir := t.TempDir()
	writeFile(t, policyDir, "test.policy", `<policyconfig>
  <action id="org.example.foo">
    <message>m</message>
    <defaults><allow_any>yes</allow_any></defaults>
  </action>
</policyconfig>`)
	writeFile(t, ruleDir, "10-test.rules", `polkit.addRule(function() { return null; });`)

	cmd := newCommand()
	err := cmd.Run(context.Background(), []string{
		"check",
		"--pid", "1",
		"--action", "org.example.foo",
		"--rules-dir", ruleDir,
		"--policy-dir", policyDir,
		"--detail", "not-a-key-value-pair",
	})
	require.Error(t, err)
}

func TestCheckSubcommandUnknownAction(t *testing.T) {
	policyDir := t.TempDir()
	ruleDir := t.TempDir()
	writeFile(t, ruleDir, "10-test.rules", `polkit.addRule(function() { return null; });`)

	cmd := newCommand()
	err := cmd.Run(context.Background(), []string{
		"check",
		"--pid", "1",
		"--action", "org.example.does-not-exist",
		"--rules-dir", ruleDir,
		"--policy-dir", policyDir,
	})
	require.Error(t, err)
}

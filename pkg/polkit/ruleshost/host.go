//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package ruleshost embeds a JavaScript interpreter that evaluates
// site-supplied "*.rules" files against a fixed API surface, used by the
// authority core to compute rule-driven authorization decisions and
// administrator-identity selections.
package ruleshost

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
)

var logger = logging.GetLogger("ruleshost")

const agent = "ruleshost"

// Options configures the runtime behavior of a [Host], mirroring the
// toggles exposed in pkg/polkit/config.
type Options struct {
	// RunawayTimeout bounds every script evaluation: the initial load of
	// every "*.rules" file, and each call into _runRules/_runAdminRules.
	RunawayTimeout time.Duration

	// AllowSpawn gates whether polkit.spawn is exposed to scripts at all.
	AllowSpawn bool

	// SpawnTimeout bounds a single polkit.spawn invocation.
	SpawnTimeout time.Duration

	// NetgroupSupported reports whether the host platform can answer
	// netgroup-membership queries; when false, _userIsInNetGroup always
	// returns false without consulting Passwd.
	NetgroupSupported bool

	// Passwd resolves netgroup membership for polkit._userIsInNetGroup.
	Passwd identity.PasswdResolver
}

// SubjectView is the flattened view of a [identity.Subject] injected into
// rule scripts as the "Subject" object's backing fields, per spec §4.3.
type SubjectView struct {
	PID              int
	User             string
	Groups           []string
	Seat             string
	Session          string
	SystemUnit       string
	HaveSystemUnit   bool
	NoNewPrivileges  bool
	Local            bool
	Active           bool
}

// Host owns a goja VM holding every loaded rule file, plus the
// registration lists those files populate via polkit.addRule /
// polkit.addAdminRule. Reload builds a fresh VM, loads every rule file
// into it, and then swaps it in, so the previous VM and all of its
// registrations are replaced as a whole.
//
// Run* calls and Reload each hold mu for their whole duration, so at most
// one script evaluation runs on a Host at a time, even when the authority
// core calls in from several goroutines for distinct subjects.
type Host struct {
	opts Options

	mu  sync.Mutex
	vm  *goja.Runtime
	dir []string // directories in load precedence order, highest first
}

// New constructs a Host and performs the initial load of every "*.rules"
// file across dirs (highest precedence first). A failure during initial
// construction is fatal to the daemon per spec §4.3.
func New(dirs []string, opts Options) (*Host, error) {
	h := &Host{opts: opts, dir: dirs}
	if err := h.reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Reload re-scans the configured directories and atomically replaces the
// VM's rule registrations, per spec §4.3 "Reload atomicity".
func (h *Host) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reload()
}

func (h *Host) reload() error {
	vm := goja.New()
	if err := h.install(vm); err != nil {
		return common.Wrap(err, common.ErrInternal, "installing rule host API")
	}

	files, err := h.listRuleFiles()
	if err != nil {
		return err
	}

	for _, f := range files {
		src, readErr := readRuleFile(f)
		if readErr != nil {
			logger.Errorf(agent, "reload", "cannot read rule file %s: %+v", f, readErr)
			continue
		}
		if err := h.runWithBudget(vm, func() (goja.Value, error) {
			return vm.RunScript(f, src)
		}); err != nil {
			// A single malformed rule file does not invalidate the host;
			// it is logged and skipped, consistent with per-file isolation
			// elsewhere in the engine. A timeout during load, however, is
			// fatal per spec §4.3 "A failure during initial host
			// construction is fatal to the daemon."
			if common.Is(err, common.ErrTimedOut) {
				return err
			}
			logger.Errorf(agent, "reload", "skipping rule file %s: %+v", f, err)
		}
	}

	h.vm = vm
	return nil
}

// listRuleFiles walks h.dir in precedence order and returns the ordered
// (basename, full path) set to load, with the highest-precedence
// directory's file winning when two directories share a basename.
func (h *Host) listRuleFiles() ([]string, error) {
	byBasename := map[string]string{}
	var basenames []string

	for _, dir := range h.dir {
		matches, err := filepath.Glob(filepath.Join(dir, "*.rules"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			b := filepath.Base(m)
			if _, seen := byBasename[b]; seen {
				continue // a higher-precedence directory already claimed this basename
			}
			byBasename[b] = m
			basenames = append(basenames, b)
		}
	}

	sort.Strings(basenames)
	out := make([]string, 0, len(basenames))
	for _, b := range basenames {
		out = append(out, byBasename[b])
	}
	return out, nil
}

// runWithBudget wraps fn with the runaway-killer wall-clock budget,
// per spec §4.4: evaluation either returns within RunawayTimeout, or the
// call is reported as TimedOut. goja.Runtime.Interrupt is documented safe
// to call from another goroutine, which is how the budget is enforced.
func (h *Host) runWithBudget(vm *goja.Runtime, fn func() (goja.Value, error)) error {
	budget := h.opts.RunawayTimeout
	if budget <= 0 {
		budget = 15 * time.Second
	}

	done := make(chan struct{})
	var fnErr error

	timer := time.AfterFunc(budget, func() {
		vm.Interrupt(errRunaway)
	})
	defer timer.Stop()

	go func() {
		defer close(done)
		_, fnErr = fn()
	}()

	<-done

	if fnErr != nil {
		if ie, ok := fnErr.(*goja.InterruptedError); ok {
			if v, ok := ie.Value().(error); ok && v == errRunaway {
				return common.New(common.ErrTimedOut, "rule evaluation exceeded its budget")
			}
		}
		return common.Wrap(fnErr, common.ErrInternal, "rule evaluation failed")
	}
	return nil
}

var errRunaway = fmt.Errorf("runaway killer budget exceeded")

// Spawn implements polkit.spawn's synchronous subprocess execution with a
// hard budget, per spec §4.3/§4.4. It never inherits privilege beyond the
// daemon's own.
func (h *Host) Spawn(ctx context.Context, argv []string) (string, error) {
	if !h.opts.AllowSpawn {
		return "", common.New(common.ErrNotAuthorized, "polkit.spawn is disabled by configuration")
	}
	if len(argv) == 0 {
		return "", common.New(common.ErrInvalidArgument, "spawn requires a non-empty argv")
	}

	budget := h.opts.SpawnTimeout
	if budget <= 0 {
		budget = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	stdout, err := cmd.Output()
	if cctx.Err() == context.DeadlineExceeded {
		return "", common.New(common.ErrTimedOut, "polkit.spawn exceeded its budget")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", common.Newf(common.ErrInternal, "spawn failed: exit=%d stderr=%s", exitErr.ExitCode(), string(exitErr.Stderr))
		}
		return "", common.Wrap(err, common.ErrInternal, "spawn failed")
	}
	return string(stdout), nil
}

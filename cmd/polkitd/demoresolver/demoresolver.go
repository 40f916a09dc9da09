//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package demoresolver provides a minimal, best-effort [identity.SessionResolver]
// and [identity.PasswdResolver] backed directly by /proc and os/user, for
// running polkitd standalone without a real session service. Replacing
// system identity services is an explicit non-goal of the authorization
// engine itself; production deployments are expected to supply their own
// resolver backed by logind (or equivalent) and the platform account
// database. This implementation never reports a seat, never reports
// netgroup membership, and never reports a session, so the engine treats
// every subject as neither local nor active.
package demoresolver

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/pkg/polkit/identity"
)

// Resolver is a best-effort, single-host implementation of both
// [identity.SessionResolver] and [identity.PasswdResolver].
type Resolver struct{}

// New constructs a demo Resolver.
func New() *Resolver {
	return &Resolver{}
}

// ProcessUID reads the effective uid of subject's pid from /proc/<pid>/status.
func (r *Resolver) ProcessUID(_ context.Context, subject identity.Subject) (int, error) {
	if subject.UIDHint != nil {
		return *subject.UIDHint, nil
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", subject.PID))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		return strconv.Atoi(fields[1])
	}
	return 0, fmt.Errorf("uid not found in /proc/%d/status", subject.PID)
}

// ProcessGroups returns the supplementary group names of the process's uid.
func (r *Resolver) ProcessGroups(ctx context.Context, subject identity.Subject) ([]string, error) {
	uid, err := r.ProcessUID(ctx, subject)
	if err != nil {
		return nil, err
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return nil, err
	}
	gids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(gids))
	for _, gid := range gids {
		if g, err := user.LookupGroupId(gid); err == nil {
			names = append(names, g.Name)
		}
	}
	return names, nil
}

// Session always reports no session: this demo resolver has no logind
// integration. The engine then treats the subject as neither local nor
// active, so the action's allow_any default applies.
func (r *Resolver) Session(_ context.Context, _ identity.Subject) (identity.Session, bool, error) {
	return identity.Session{}, false, nil
}

// SystemUnit never resolves a systemd unit in the demo resolver.
func (r *Resolver) SystemUnit(_ context.Context, _ identity.Subject) (string, bool) {
	return "", false
}

// StillAlive checks /proc/<pid> existence as a coarse liveness probe.
func (r *Resolver) StillAlive(_ context.Context, subject identity.Subject) (bool, error) {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", subject.PID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UserName resolves a uid to a login name via os/user.
func (r *Resolver) UserName(uid int) (string, bool) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", false
	}
	return u.Username, true
}

// UserUID resolves a login name to a uid via os/user.
func (r *Resolver) UserUID(name string) (int, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, false
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// GroupName resolves a gid to a group name via os/user.
func (r *Resolver) GroupName(gid int) (string, bool) {
	g, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return "", false
	}
	return g.Name, true
}

// GroupGID resolves a group name to a gid via os/user.
func (r *Resolver) GroupGID(name string) (int, bool) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, false
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, false
	}
	return gid, true
}

// IsInNetgroup always reports false: netgroup databases have no portable
// Go stdlib accessor. NetgroupSupported defaults to true in
// pkg/polkit/config, so rule scripts do reach this method and see false.
func (r *Resolver) IsInNetgroup(_, _ string) (bool, error) {
	return false, nil
}

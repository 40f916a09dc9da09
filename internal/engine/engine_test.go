//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/agent"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
	"github.com/polkit-go/polkitd/pkg/polkit/tempcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is a minimal identity.SessionResolver + identity.PasswdResolver
// stand-in, analogous to the demo resolver this daemon ships, but
// table-driven so tests can script exact subject context.
type fakeResolver struct {
	uid      int
	groups   []string
	session  identity.Session
	hasSess  bool
	unit     string
	hasUnit  bool
}

func (f *fakeResolver) ProcessUID(ctx context.Context, s identity.Subject) (int, error) {
	return f.uid, nil
}
func (f *fakeResolver) ProcessGroups(ctx context.Context, s identity.Subject) ([]string, error) {
	return f.groups, nil
}
func (f *fakeResolver) Session(ctx context.Context, s identity.Subject) (identity.Session, bool, error) {
	return f.session, f.hasSess, nil
}
func (f *fakeResolver) SystemUnit(ctx context.Context, s identity.Subject) (string, bool) {
	return f.unit, f.hasUnit
}
func (f *fakeResolver) StillAlive(ctx context.Context, s identity.Subject) (bool, error) {
	return true, nil
}
func (f *fakeResolver) UserName(uid int) (string, bool)   { return "", false }
func (f *fakeResolver) UserUID(name string) (int, bool)   { return 0, false }
func (f *fakeResolver) GroupName(gid int) (string, bool)  { return "", false }
func (f *fakeResolver) GroupGID(name string) (int, bool)  { return 0, false }
func (f *fakeResolver) IsInNetgroup(user, netgroup string) (bool, error) { return false, nil }

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func writeRules(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestEngine(t *testing.T, policy, rules string, resolver *fakeResolver) *Engine {
	t.Helper()
	policyDir := t.TempDir()
	rulesDir := t.TempDir()
	writePolicy(t, policyDir, "test.policy", policy)
	writeRules(t, rulesDir, "10-test.rules", rules)

	reg, err := action.NewRegistry([]string{policyDir}, "")
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	host, err := ruleshost.New([]string{rulesDir}, ruleshost.Options{RunawayTimeout: 2 * time.Second})
	require.NoError(t, err)

	cache := tempcache.New()
	agents := agent.New()

	if resolver == nil {
		resolver = &fakeResolver{uid: 1000}
	}

	return New(reg, host, cache, agents, resolver, resolver)
}

const policyAllowAny = `<policyconfig>
  <action id="org.example.foo">
    <message>Authentication is required to foo</message>
    <defaults><allow_any>yes</allow_any></defaults>
  </action>
</policyconfig>`

const policyDenyAny = `<policyconfig>
  <action id="org.example.foo">
    <message>Authentication is required to foo</message>
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`

const policyAuthSelf = `<policyconfig>
  <action id="org.example.foo">
    <message>Authentication is required to foo</message>
    <defaults><allow_any>auth_self</allow_any></defaults>
  </action>
</policyconfig>`

const noopRules = `polkit.addRule(function() { return null; });`

func TestCheckAuthorizationUnknownAction(t *testing.T) {
	e := newTestEngine(t, policyDenyAny, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	_, err = e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.does-not-exist"})
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))
}

func TestCheckAuthorizationImplicitYes(t *testing.T) {
	e := newTestEngine(t, policyAllowAny, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized)
	assert.False(t, result.IsChallenge)
}

func TestCheckAuthorizationImplicitNo(t *testing.T) {
	e := newTestEngine(t, policyDenyAny, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
	require.NoError(t, err)
	assert.False(t, result.IsAuthorized)
}

func TestCheckAuthorizationRuleGrantsOutright(t *testing.T) {
	e := newTestEngine(t, policyDenyAny, `polkit.addRule(function(action) {
    if (action.id === "org.example.foo") return "yes";
});`, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized, "a rule returning \"yes\" is terminal regardless of the policy file default")
}

func TestCheckAuthorizationNoInteractionYieldsChallenge(t *testing.T) {
	e := newTestEngine(t, policyAuthSelf, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
	require.NoError(t, err)
	assert.False(t, result.IsAuthorized)
	assert.True(t, result.IsChallenge, "auth-required with no interaction allowed reports a challenge, not a hard denial")
}

func TestCheckAuthorizationDetailsRejectsReservedKeys(t *testing.T) {
	e := newTestEngine(t, policyAllowAny, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	_, err = e.CheckAuthorization(context.Background(), Request{
		Subject:  subj,
		ActionID: "org.example.foo",
		Details:  identity.Details{"polkit.icon_name": "x"},
	})
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))
}

func TestCheckAuthorizationRejectsInvalidSubject(t *testing.T) {
	e := newTestEngine(t, policyAllowAny, noopRules, nil)

	_, err := e.CheckAuthorization(context.Background(), Request{Subject: identity.Subject{}, ActionID: "org.example.foo"})
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))
}

func TestCheckAuthorizationTempCacheGrantsRetainedAuth(t *testing.T) {
	e := newTestEngine(t, policyDenyAny, `polkit.addRule(function(action) {
    if (action.id === "org.example.foo") return "auth_self_keep";
});`, &fakeResolver{uid: 1000, session: identity.Session{ID: "sess-1"}, hasSess: true})

	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	e.TempCache.Insert(subj, "sess-1", true, "org.example.foo", 0)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized, "a prior retained grant in the temp cache satisfies a rule's auth_self_keep result")
}

const policyAuthAdminKeepActive = `<policyconfig>
  <action id="org.test.edit">
    <message>Authentication is required to edit</message>
    <defaults><allow_active>auth_admin_keep</allow_active></defaults>
  </action>
</policyconfig>`

func TestCheckAuthorizationTempCacheGrantsDefaultDrivenRetainedAuth(t *testing.T) {
	// spec.md §8 end-to-end scenario 3: org.test.edit's own static default
	// (not a rule) is auth_admin_keep; a prior retained grant must satisfy
	// subsequent calls without any agent dialogue.
	e := newTestEngine(t, policyAuthAdminKeepActive, noopRules,
		&fakeResolver{uid: 1000, session: identity.Session{ID: "sess-1", IsLocal: true, IsActive: true}, hasSess: true})

	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	e.TempCache.Insert(subj, "sess-1", true, "org.test.edit", 0)

	result, err := e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.test.edit"})
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized, "a prior retained grant satisfies a default-driven (non-rule) auth_admin_keep just as it would a rule-driven one")
}

func TestCancelCheckAuthorizationUnknownID(t *testing.T) {
	e := newTestEngine(t, policyAllowAny, noopRules, nil)
	err := e.CancelCheckAuthorization("caller:1", "no-such-id")
	require.Error(t, err)
}

// blockingResolver blocks ProcessUID for a single targeted subject until
// unblock is closed, letting a test hold one CheckAuthorization call open
// at a known point in the pipeline while other subjects proceed normally.
type blockingResolver struct {
	fakeResolver
	blockKey string
	unblock  chan struct{}
}

func (b *blockingResolver) ProcessUID(ctx context.Context, s identity.Subject) (int, error) {
	if s.ProcessKey() == b.blockKey {
		<-b.unblock
	}
	return b.fakeResolver.uid, nil
}

func TestCheckAuthorizationDuplicateCancellationIDRejected(t *testing.T) {
	subjA, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	resolver := &blockingResolver{fakeResolver: fakeResolver{uid: 1000}, blockKey: subjA.ProcessKey(), unblock: make(chan struct{})}
	e := newTestEngine(t, policyAllowAny, noopRules, &resolver.fakeResolver)
	e.Resolver = resolver
	e.Passwd = resolver

	subjB, err := identity.NewUnixProcess(200, 0, nil)
	require.NoError(t, err)

	caller, err := identity.NewSystemBusName(":1.1")
	require.NoError(t, err)

	firstDone := make(chan struct{})
	firstStarted := make(chan struct{})
	go func() {
		close(firstStarted)
		_, _ = e.CheckAuthorization(context.Background(), Request{
			Caller: caller, Subject: subjA, ActionID: "org.example.foo", CancellationID: "dup",
		})
		close(firstDone)
	}()
	<-firstStarted

	// The first call is parked inside phase1 (blocked on ProcessUID), so its
	// cancellation id registration is still held; a second call reusing the
	// same (caller, cancellation id) pair must be rejected deterministically.
	require.Eventually(t, func() bool {
		_, err := e.CheckAuthorization(context.Background(), Request{
			Caller: caller, Subject: subjB, ActionID: "org.example.foo", CancellationID: "dup",
		})
		return err != nil && common.Is(err, common.ErrCancellationIDNotUnique)
	}, time.Second, 5*time.Millisecond)

	close(resolver.unblock)
	<-firstDone
}

func TestSubjectLocksSerializeSameSubject(t *testing.T) {
	e := newTestEngine(t, policyAllowAny, noopRules, nil)
	subj, err := identity.NewUnixProcess(100, 0, nil)
	require.NoError(t, err)

	start := make(chan struct{})
	done := make(chan struct{}, 2)

	run := func() {
		<-start
		_, _ = e.CheckAuthorization(context.Background(), Request{Subject: subj, ActionID: "org.example.foo"})
		done <- struct{}{}
	}
	go run()
	go run()
	close(start)
	<-done
	<-done
}

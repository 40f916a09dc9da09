//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import (
	"context"
	"time"

	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/agent"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
)

// phase4Authenticate implements spec §4.7 step 7: dispatching an
// authentication-agent dialogue (or reporting a challenge, if the caller
// disallowed interaction) and acting on its outcome.
func (e *Engine) phase4Authenticate(ctx context.Context, st *pipelineState) (AuthorizationResult, error) {
	if !st.req.Flags.has(FlagAllowUserInteraction) {
		return AuthorizationResult{IsAuthorized: false, IsChallenge: true}, nil
	}

	selfIdentity := identity.NewUnixUser(st.rsubj.uid).String()

	var adminIdentities []string
	if st.implicit.IsAdmin() {
		ids, err := e.adminIdentities(st)
		if err != nil {
			logger.Warnf(logAgent, "phase4Authenticate", "admin rule evaluation failed: %+v", err)
			return AuthorizationResult{IsAuthorized: false}, nil
		}
		adminIdentities = ids
	}

	reg, ok := e.Agents.FindForSession(st.rsubj.session.ID)
	if !ok {
		logger.Warnf(logAgent, "phase4Authenticate", "no authentication agent registered for session %q", st.rsubj.session.ID)
		return AuthorizationResult{IsAuthorized: false, IsChallenge: false}, nil
	}

	message := action.Localized(st.desc.MessageByLang, "")
	pending := reg.BeginAuthentication(st.req.ActionID, message, adminIdentities, selfIdentity)

	respondingIdentity, err := e.awaitResponse(ctx, reg, pending)
	if err != nil {
		if common.Is(err, common.ErrCancelled) {
			return AuthorizationResult{}, err
		}
		logger.Debugf(logAgent, "phase4Authenticate", "authentication did not complete: %+v", err)
		return AuthorizationResult{IsAuthorized: false}, nil
	}

	_ = respondingIdentity // the identity that authenticated is not otherwise surfaced to the caller

	if st.implicit.IsRetained() {
		e.TempCache.Insert(st.req.Subject, st.rsubj.session.ID, true, st.req.ActionID, defaultGrantTTL)
	}

	return AuthorizationResult{IsAuthorized: true}, nil
}

// awaitResponse blocks on pending until it completes, agent.ResponseTimeout
// passes, or the caller's context ends (cancellation or deadline),
// cancelling the pending authentication in the latter two cases.
func (e *Engine) awaitResponse(ctx context.Context, reg *agent.Registration, pending *agent.PendingAuth) (string, error) {
	type outcome struct {
		identity string
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		id, err := pending.Await()
		ch <- outcome{identity: id, err: err}
	}()

	timer := time.NewTimer(agent.ResponseTimeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		return o.identity, o.err
	case <-timer.C:
		reg.Cancel(pending.Cookie, true)
		return "", common.New(common.ErrTimedOut, "authentication agent did not respond in time")
	case <-ctx.Done():
		reg.Cancel(pending.Cookie, false)
		return "", common.New(common.ErrCancelled, "check_authorization cancelled by caller")
	}
}

// adminIdentities resolves the administrator identity set for an
// admin_* implicit, via the rule host's _runAdminRules, falling back to
// unix-user:0 when no admin rule matches, per spec §4.3/§4.7.
func (e *Engine) adminIdentities(st *pipelineState) ([]string, error) {
	view := ruleshost.SubjectView{
		PID:            st.req.Subject.PID,
		User:           e.userName(st.rsubj.uid),
		Groups:         st.rsubj.groups,
		Seat:           st.rsubj.seat.ID,
		Session:        st.rsubj.session.ID,
		SystemUnit:     st.rsubj.systemUnit,
		HaveSystemUnit: st.rsubj.haveSystemUnit,
		Local:          st.rsubj.isLocal,
		Active:         st.rsubj.isActive,
	}

	ids, err := e.RuleHost.RunAdminRules(st.req.ActionID, st.req.Details, view)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{identity.NewUnixUser(0).String()}, nil
	}
	return ids, nil
}

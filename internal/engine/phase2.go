//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import (
	"strconv"

	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
)

// phase2Rules implements spec §4.7 step 3: invoking the rule host. A
// concrete authorized/not-authorized result is terminal; anything else
// (including "no rule matched" or a *_retained/auth-required variant)
// falls through to later phases with st.implicit populated accordingly.
func (e *Engine) phase2Rules(st *pipelineState) (AuthorizationResult, bool, error) {
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

	implicit, matched, err := e.RuleHost.RunRules(st.req.ActionID, st.req.Details, view)
	if err != nil {
		logger.Warnf(logAgent, "phase2Rules", "rule evaluation error for %s, treating as not-authorized: %+v", st.req.ActionID, err)
		return AuthorizationResult{IsAuthorized: false, IsChallenge: false}, true, nil
	}

	if matched {
		switch implicit {
		case action.ImplicitAuthorized:
			return AuthorizationResult{IsAuthorized: true}, true, nil
		case action.ImplicitNotAuthorized:
			return AuthorizationResult{IsAuthorized: false}, true, nil
		}
		st.implicit = implicit
		st.fromRules = true
	}

	return AuthorizationResult{}, false, nil
}

// userName resolves uid to a login name for the rule host's Subject.user
// field, falling back to the numeric uid when the account database has
// no entry (e.g. an ephemeral container uid).
func (e *Engine) userName(uid int) string {
	if e.Passwd != nil {
		if name, ok := e.Passwd.UserName(uid); ok {
			return name
		}
	}
	return strconv.Itoa(uid)
}

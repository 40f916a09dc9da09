//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import "github.com/polkit-go/polkitd/pkg/polkit/action"

// phase3Implicit implements spec §4.7 steps 4-6: picking the action's
// implicit default for this subject's locality/activity when the rules
// did not already yield one, returning immediately if the resulting
// implicit (rules-derived or default-derived) is itself terminal, and
// otherwise consulting the temp cache whenever it requires
// authentication. The cache lookup depends only on the final implicit,
// not on whether a rule or the static default produced it.
func (e *Engine) phase3Implicit(st *pipelineState) (AuthorizationResult, bool) {
	if !st.fromRules {
		implicit := st.desc.CurrentDefault.Pick(st.rsubj.isLocal, st.rsubj.isActive)
		st.implicit = implicit

		switch implicit {
		case action.ImplicitAuthorized:
			return AuthorizationResult{IsAuthorized: true}, true
		case action.ImplicitNotAuthorized:
			return AuthorizationResult{IsAuthorized: false}, true
		}
	}

	if st.implicit.RequiresAuth() {
		if e.TempCache.Lookup(st.req.Subject, st.rsubj.session.ID, st.req.ActionID) {
			return AuthorizationResult{IsAuthorized: true}, true
		}
	}

	return AuthorizationResult{}, false
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import (
	"context"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// phase1Validate implements spec §4.7 steps 1-2: validating the request
// shape and resolving the subject to its uid/session/seat/locality.
func (e *Engine) phase1Validate(ctx context.Context, st *pipelineState) error {
	desc, ok := e.Registry.Get(st.req.ActionID)
	if !ok {
		logger.Warnf(logAgent, "phase1Validate", "unknown action id %q", st.req.ActionID)
		return common.Newf(common.ErrInvalidArgument, "unknown action %q", st.req.ActionID)
	}
	st.desc = desc

	if !st.req.Subject.IsBusName && st.req.Subject.PID <= 0 {
		return common.New(common.ErrInvalidArgument, "subject has no resolvable pid or bus name")
	}

	if st.req.Details.HasReservedKeys() {
		return common.New(common.ErrInvalidArgument, "details may not use the reserved polkit. prefix")
	}

	uid, err := e.Resolver.ProcessUID(ctx, st.req.Subject)
	if err != nil {
		return common.Wrap(err, common.ErrInternal, "resolving subject uid")
	}
	groups, err := e.Resolver.ProcessGroups(ctx, st.req.Subject)
	if err != nil {
		return common.Wrap(err, common.ErrInternal, "resolving subject groups")
	}

	sess, hasSession, err := e.Resolver.Session(ctx, st.req.Subject)
	if err != nil {
		return common.Wrap(err, common.ErrInternal, "resolving subject session")
	}

	rsubj := resolvedSubject{uid: uid, groups: groups}
	if hasSession {
		rsubj.session = sess
		rsubj.seat.ID = sess.SeatID
		rsubj.isLocal = sess.IsLocal
		rsubj.isActive = sess.IsActive
	}

	if unit, ok := e.Resolver.SystemUnit(ctx, st.req.Subject); ok {
		rsubj.haveSystemUnit = true
		rsubj.systemUnit = unit
	}

	st.rsubj = rsubj
	return nil
}

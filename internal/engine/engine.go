//
//  Copyright © Manetu Inc. All rights reserved.
//

package engine

import (
	"context"
	"sync"

	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/agent"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
	"github.com/polkit-go/polkitd/pkg/polkit/tempcache"
)

var logger = logging.GetLogger("engine")

const logAgent = "engine"

// Engine is the authority core. It owns no transport; callers (the
// external boundary) supply peer identities already resolved to
// [identity.Subject] values.
type Engine struct {
	Registry   *action.Registry
	RuleHost   *ruleshost.Host
	TempCache  *tempcache.Cache
	Agents     *agent.Registry
	Resolver   identity.SessionResolver
	Passwd     identity.PasswdResolver

	// subjectLocks serializes check_authorization calls that name the
	// same subject, per spec §5 "No other operation of the same subject
	// is processed while suspended"; unrelated subjects proceed
	// concurrently.
	subjectLocks sync.Map // map[string]*sync.Mutex, keyed by Subject.ProcessKey()

	cancelMu sync.Mutex
	cancels  map[cancelKey]context.CancelFunc
}

type cancelKey struct {
	callerBusName string
	cancellationID string
}

// New constructs an Engine from its already-built collaborators.
func New(reg *action.Registry, host *ruleshost.Host, cache *tempcache.Cache, agents *agent.Registry, resolver identity.SessionResolver, passwd identity.PasswdResolver) *Engine {
	return &Engine{
		Registry:  reg,
		RuleHost:  host,
		TempCache: cache,
		Agents:    agents,
		Resolver:  resolver,
		Passwd:    passwd,
		cancels:   map[cancelKey]context.CancelFunc{},
	}
}

func (e *Engine) lockFor(subject identity.Subject) func() {
	key := subject.ProcessKey()
	v, _ := e.subjectLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CheckAuthorization runs the full decision pipeline for req, per
// spec §4.7. It is safe to call concurrently for distinct subjects;
// calls naming the same subject are serialized.
func (e *Engine) CheckAuthorization(ctx context.Context, req Request) (AuthorizationResult, error) {
	unlock := e.lockFor(req.Subject)
	defer unlock()

	if req.CancellationID != "" {
		key := cancelKey{callerBusName: req.Caller.String(), cancellationID: req.CancellationID}
		cctx, cancel := context.WithCancel(ctx)

		e.cancelMu.Lock()
		if _, exists := e.cancels[key]; exists {
			e.cancelMu.Unlock()
			return AuthorizationResult{}, common.Newf(common.ErrCancellationIDNotUnique, "cancellation id %q already in flight for this caller", req.CancellationID)
		}
		e.cancels[key] = cancel
		e.cancelMu.Unlock()

		defer func() {
			e.cancelMu.Lock()
			delete(e.cancels, key)
			e.cancelMu.Unlock()
			cancel()
		}()

		ctx = cctx
	}

	st := &pipelineState{req: req}

	if err := e.phase1Validate(ctx, st); err != nil {
		return AuthorizationResult{}, err
	}

	if result, done, err := e.phase2Rules(st); done || err != nil {
		return result, err
	}

	if result, done := e.phase3Implicit(st); done {
		return result, nil
	}

	return e.phase4Authenticate(ctx, st)
}

// AuthenticationAgentResponse completes a pending authentication, per
// spec §4.7 "authentication_agent_response". callerBusName must own the
// agent registration the cookie belongs to.
func (e *Engine) AuthenticationAgentResponse(callerBusName, cookie, identity string) error {
	return e.Agents.Respond(callerBusName, cookie, identity)
}

// CancelCheckAuthorization cancels the in-flight request scoped to
// (callerBusName, cancellationID), per spec §4.7.
func (e *Engine) CancelCheckAuthorization(callerBusName, cancellationID string) error {
	key := cancelKey{callerBusName: callerBusName, cancellationID: cancellationID}

	e.cancelMu.Lock()
	cancel, ok := e.cancels[key]
	e.cancelMu.Unlock()

	if !ok {
		return common.New(common.ErrInvalidArgument, "no such in-flight cancellation id for this caller")
	}
	cancel()
	return nil
}

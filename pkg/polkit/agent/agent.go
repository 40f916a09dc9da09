//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package agent implements the authentication-agent registry: bookkeeping
// for agents registered to service authentication dialogues for a scope
// of subjects, and the pending-authentication records created while the
// authority core is awaiting a response.
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

var logger = logging.GetLogger("agent")

const logAgent = "agent"

// Scope identifies the set of subjects an agent registration covers.
// Typically a session id, per spec §3 "subject_scope is typically
// UnixSession(session_id)".
type Scope struct {
	SessionID string
}

// Registration records a single authentication-agent registration.
type Registration struct {
	Scope        Scope
	Locale       string
	ObjectPath   string
	OwnerBusName string
	UID          int
	Options      map[string]string

	mu      sync.Mutex
	pending map[string]*PendingAuth
}

// PendingAuth is an in-flight authentication dialogue awaiting a response
// from the agent it was dispatched to.
type PendingAuth struct {
	Cookie          string
	ActionID        string
	Message         string
	AdminIdentities []string // empty for a self-authentication flow
	SelfIdentity    string   // the subject's own identity, always a valid responder

	done chan result
}

type result struct {
	identity string
	err      error
}

// Await blocks until the pending authentication completes: by a
// [Registry.Respond] call, by agent unregistration or death, or by
// [Registration.Cancel]. It takes no context; a caller that stops waiting
// calls Cancel.
func (p *PendingAuth) Await() (identity string, err error) {
	r := <-p.done
	return r.identity, r.err
}

// Registry tracks agent registrations and the pending authentications
// dispatched to them.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Registration // keyed by Scope.SessionID
}

// New constructs an empty agent registry.
func New() *Registry {
	return &Registry{byKey: map[string]*Registration{}}
}

// Register claims scope on behalf of (ownerBusName, objectPath). Fails
// with AlreadyExists if scope overlaps an existing registration, per
// spec §4.6 "Registration".
func (r *Registry) Register(scope Scope, locale, objectPath, ownerBusName string, uid int, options map[string]string) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[scope.SessionID]; exists {
		return nil, common.Newf(common.ErrAlreadyExists, "an agent is already registered for session %q", scope.SessionID)
	}

	reg := &Registration{
		Scope:        scope,
		Locale:       locale,
		ObjectPath:   objectPath,
		OwnerBusName: ownerBusName,
		UID:          uid,
		Options:      options,
		pending:      map[string]*PendingAuth{},
	}
	r.byKey[scope.SessionID] = reg
	return reg, nil
}

// Unregister removes the registration for scope, requiring the caller to
// match the registration's owner bus name and object path, per spec §4.6
// "Unregistration".
func (r *Registry) Unregister(scope Scope, ownerBusName, objectPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byKey[scope.SessionID]
	if !ok || reg.OwnerBusName != ownerBusName || reg.ObjectPath != objectPath {
		return common.New(common.ErrNotAuthorized, "caller does not own the registration for this scope")
	}
	delete(r.byKey, scope.SessionID)
	reg.failAllPending(common.New(common.ErrCancelled, "agent unregistered"))
	return nil
}

// PeerDied evicts every registration owned by ownerBusName and completes
// all of its pending authentications with Cancelled, per spec §4.6
// "Peer death".
func (r *Registry) PeerDied(ownerBusName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, reg := range r.byKey {
		if reg.OwnerBusName == ownerBusName {
			delete(r.byKey, key)
			reg.failAllPending(common.New(common.ErrCancelled, "authentication agent process disappeared"))
		}
	}
}

func (reg *Registration) failAllPending(err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for cookie, p := range reg.pending {
		p.done <- result{err: err}
		delete(reg.pending, cookie)
	}
}

// FindForSession returns the registration whose scope encloses sessionID,
// or ok=false if none is registered, per spec §4.6 "Request fan-out".
func (r *Registry) FindForSession(sessionID string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byKey[sessionID]
	return reg, ok
}

// BeginAuthentication dispatches a new authentication dialogue to reg,
// returning a cookie-bearing [PendingAuth] the caller awaits. The caller
// is responsible for actually notifying the agent (e.g. over a
// transport); this method only performs the in-memory bookkeeping
// described in spec §4.7 step 7.
func (reg *Registration) BeginAuthentication(actionID, message string, adminIdentities []string, selfIdentity string) *PendingAuth {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	p := &PendingAuth{
		Cookie:          uuid.NewString(),
		ActionID:        actionID,
		Message:         message,
		AdminIdentities: adminIdentities,
		SelfIdentity:    selfIdentity,
		done:            make(chan result, 1),
	}
	reg.pending[p.Cookie] = p
	return p
}

// Respond completes the pending authentication identified by cookie, per
// spec §4.7 "authentication_agent_response": ownerBusName must own the
// agent registration servicing cookie, and the responding identity must
// be one of AdminIdentities (admin flows) or, when AdminIdentities is
// empty (self flows), equal SelfIdentity. A non-owning caller gets the
// same InvalidArgument error as an unknown cookie, so the error does not
// reveal whether the cookie exists. Any failed check on a known cookie
// completes the pending auth as a failure.
func (r *Registry) Respond(ownerBusName, cookie, respondingIdentity string) error {
	r.mu.Lock()
	var reg *Registration
	for _, candidate := range r.byKey {
		candidate.mu.Lock()
		if _, ok := candidate.pending[cookie]; ok {
			reg = candidate
		}
		candidate.mu.Unlock()
		if reg != nil {
			break
		}
	}
	r.mu.Unlock()

	if reg == nil {
		return common.New(common.ErrInvalidArgument, "no such pending authentication")
	}

	reg.mu.Lock()
	p, ok := reg.pending[cookie]
	if ok {
		delete(reg.pending, cookie)
	}
	reg.mu.Unlock()

	if !ok {
		return common.New(common.ErrInvalidArgument, "no such pending authentication")
	}

	if reg.OwnerBusName != ownerBusName {
		p.done <- result{err: common.New(common.ErrNotAuthorized, "responding caller does not own the agent registration")}
		return common.New(common.ErrInvalidArgument, "no such pending authentication")
	}

	var allowed bool
	if len(p.AdminIdentities) == 0 {
		allowed = respondingIdentity == p.SelfIdentity
	} else {
		for _, id := range p.AdminIdentities {
			if id == respondingIdentity {
				allowed = true
			}
		}
	}

	if !allowed {
		p.done <- result{err: common.New(common.ErrNotAuthorized, "responding identity is not permitted to satisfy this authentication")}
		return nil
	}

	p.done <- result{identity: respondingIdentity}
	return nil
}

// Cancel fails a pending authentication identified by cookie, with
// TimedOut when timedOut is true and with Cancelled otherwise. The
// authority core calls it when the caller's context ends and when
// [ResponseTimeout] passes without a response.
func (reg *Registration) Cancel(cookie string, timedOut bool) {
	reg.mu.Lock()
	p, ok := reg.pending[cookie]
	if ok {
		delete(reg.pending, cookie)
	}
	reg.mu.Unlock()

	if !ok {
		return
	}

	if timedOut {
		p.done <- result{err: common.New(common.ErrTimedOut, "authentication agent did not respond in time")}
	} else {
		p.done <- result{err: common.New(common.ErrCancelled, "authentication cancelled")}
	}
}

// ResponseTimeout is the bound the authority waits on an agent response
// before cancelling the dialogue as timed out. It is a fixed value: the
// config.AgentResponseTimeout key does not change it.
const ResponseTimeout = 5 * time.Minute

//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package engine implements the authority core: the sequential decision
// pipeline that turns a check_authorization request into an
// AuthorizationResult by consulting the rule host, the temporary-
// authorization cache, the action registry's implicit defaults, and
// (when needed) an authentication agent.
//
// The pipeline is organized into four phases, mirroring the reference
// engine's phase-file decomposition — but unlike that engine's four
// goroutines joined by a WaitGroup, these phases run strictly
// sequentially under a per-subject lock, per the single-threaded
// cooperative dispatcher model this engine implements.
package engine

import (
	"time"

	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
)

// Flags is the bitmask callers pass to CheckAuthorization.
type Flags uint32

const (
	// FlagAllowUserInteraction permits the authority to dispatch an
	// authentication-agent dialogue rather than returning a challenge.
	FlagAllowUserInteraction Flags = 1 << iota
	// FlagAlwaysCheck disables any implicit short-circuiting an
	// implementation might otherwise apply (reserved for parity with the
	// reference flag set; this engine performs no such short-circuiting
	// today, so the flag is accepted but has no additional effect).
	FlagAlwaysCheck
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Request bundles the inputs to a single check_authorization call.
type Request struct {
	Caller   identity.Subject
	Subject  identity.Subject
	ActionID string
	Details  identity.Details
	Flags    Flags

	// CancellationID, if non-empty, scopes this request for
	// cancel_check_authorization under (Caller, CancellationID).
	CancellationID string
}

// AuthorizationResult is the outcome of a check_authorization call.
type AuthorizationResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      identity.Details
}

// resolvedSubject is the process/session/seat context phase1 resolves.
type resolvedSubject struct {
	uid      int
	groups   []string
	session  identity.Session
	seat     identity.Seat
	isLocal  bool
	isActive bool

	haveSystemUnit bool
	systemUnit     string
}

// pipelineState threads intermediate results between phases within a
// single check_authorization invocation.
type pipelineState struct {
	req   Request
	desc  *action.Description
	rsubj resolvedSubject

	implicit     action.Implicit
	fromRules    bool
	sessionScope bool
}

// defaultGrantTTL bounds how long a _retained grant lives when the action
// carries no more specific lifetime; the spec leaves this
// implementation-defined beyond "an expires_at may be present".
const defaultGrantTTL = 0 * time.Minute // zero means "no expiry", matching a logind-style session-bound grant

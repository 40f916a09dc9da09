//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package boundary defines the external boundary: the method surface and
// event stream a transport binding (D-Bus, HTTP, gRPC, ...) exposes on
// top of an [authority.Authority]. This package is transport-agnostic;
// see boundary/httpapi for a concrete (demo) binding.
package boundary

import (
	"context"

	"github.com/polkit-go/polkitd/internal/engine"
	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/agent"
	"github.com/polkit-go/polkitd/pkg/polkit/authority"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/tempcache"
)

// PeerCredentials is the peer identity a transport binding attaches to
// every inbound call: the bus name making the call, and the uid the
// transport itself authenticated (recorded as the owner uid of agent
// registrations, never trusted from caller-supplied data). The read/revoke
// authorization check runs against the bus name only.
type PeerCredentials struct {
	BusName string
	UID     int
}

// wellKnownReadAction and wellKnownRevokeAction mirror the reference
// action set's actions gating cross-user enumeration/revocation, per
// spec §4.8: "require the caller to itself pass an authorization check
// for a well-known action."
const (
	wellKnownReadAction   = "org.freedesktop.policykit.read"
	wellKnownRevokeAction = "org.freedesktop.policykit.revoke"
)

// Boundary implements the method/event surface spec §4.8 describes,
// independent of any specific transport.
type Boundary struct {
	Authority authority.Authority

	BackendName     string
	BackendVersion  string
	BackendFeatures []string
}

// New constructs a Boundary wrapping auth.
func New(auth authority.Authority, backendName, backendVersion string, backendFeatures []string) *Boundary {
	return &Boundary{
		Authority:       auth,
		BackendName:     backendName,
		BackendVersion:  backendVersion,
		BackendFeatures: backendFeatures,
	}
}

// Changed returns a channel that receives a value after every action
// registry or rule-host reload, per spec §4.8 "Emits a Changed event
// after every reload."
func (b *Boundary) Changed() <-chan struct{} {
	return b.Authority.Changed()
}

// CheckAuthorization is the external-boundary entry point for
// check_authorization; peer is the caller's transport-verified identity
// (used as the caller subject).
func (b *Boundary) CheckAuthorization(ctx context.Context, peer PeerCredentials, subject identity.Subject, actionID string, details identity.Details, flags engine.Flags, cancellationID string) (engine.AuthorizationResult, error) {
	caller, err := identity.NewSystemBusName(peer.BusName)
	if err != nil {
		return engine.AuthorizationResult{}, err
	}

	return b.Authority.CheckAuthorization(ctx, engine.Request{
		Caller:         caller,
		Subject:        subject,
		ActionID:       actionID,
		Details:        details,
		Flags:          flags,
		CancellationID: cancellationID,
	})
}

// CancelCheckAuthorization implements cancel_check_authorization.
func (b *Boundary) CancelCheckAuthorization(peer PeerCredentials, cancellationID string) error {
	return b.Authority.CancelCheckAuthorization(peer.BusName, cancellationID)
}

// EnumerateActions implements enumerate_actions(locale).
func (b *Boundary) EnumerateActions(locale string) []*action.LocalizedDescription {
	return b.Authority.EnumerateActions(locale)
}

// RegisterAuthenticationAgent implements register_authentication_agent
// [_with_options].
func (b *Boundary) RegisterAuthenticationAgent(peer PeerCredentials, scope agent.Scope, locale, objectPath string, options map[string]string) (*agent.Registration, error) {
	return b.Authority.RegisterAgent(scope, locale, objectPath, peer.BusName, peer.UID, options)
}

// UnregisterAuthenticationAgent implements unregister_authentication_agent.
func (b *Boundary) UnregisterAuthenticationAgent(peer PeerCredentials, scope agent.Scope, objectPath string) error {
	return b.Authority.UnregisterAgent(scope, peer.BusName, objectPath)
}

// AuthenticationAgentResponse implements authentication_agent_response.
// It takes no uid argument: the response is checked against the owning
// bus name of the agent registration only (any stronger check belongs to
// the transport's peer-credential verification).
func (b *Boundary) AuthenticationAgentResponse(peer PeerCredentials, cookie, identity string) error {
	return b.Authority.AuthenticationAgentResponse(peer.BusName, cookie, identity)
}

// EnumerateTemporaryAuthorizations implements
// enumerate_temporary_authorizations(subject), requiring the caller to
// pass the well-known read action on every call, including one that names
// the caller's own grants, per spec §4.8.
func (b *Boundary) EnumerateTemporaryAuthorizations(ctx context.Context, peer PeerCredentials, subject identity.Subject, sessionID string) ([]*tempcache.Grant, error) {
	if err := b.requirePeerAction(ctx, peer, wellKnownReadAction); err != nil {
		return nil, err
	}
	return b.Authority.EnumerateTemporaryAuthorizations(subject, sessionID), nil
}

// RevokeTemporaryAuthorizations implements revoke_temporary_authorizations(subject).
func (b *Boundary) RevokeTemporaryAuthorizations(ctx context.Context, peer PeerCredentials, subject identity.Subject, sessionID string) error {
	if err := b.requirePeerAction(ctx, peer, wellKnownRevokeAction); err != nil {
		return err
	}
	b.Authority.RevokeTemporaryAuthorizations(subject, sessionID)
	return nil
}

// RevokeTemporaryAuthorizationByID implements revoke_temporary_authorization_by_id(id).
func (b *Boundary) RevokeTemporaryAuthorizationByID(ctx context.Context, peer PeerCredentials, id string) error {
	if err := b.requirePeerAction(ctx, peer, wellKnownRevokeAction); err != nil {
		return err
	}
	b.Authority.RevokeTemporaryAuthorizationByID(id)
	return nil
}

// requirePeerAction runs a self-check_authorization for the peer's own
// bus name against wellKnownAction, denying the call outright unless it
// is authorized, per spec §4.8.
func (b *Boundary) requirePeerAction(ctx context.Context, peer PeerCredentials, wellKnownAction string) error {
	callerSubject, err := identity.NewSystemBusName(peer.BusName)
	if err != nil {
		return err
	}

	result, err := b.Authority.CheckAuthorization(ctx, engine.Request{
		Caller:   callerSubject,
		Subject:  callerSubject,
		ActionID: wellKnownAction,
		Flags:    0,
	})
	if err != nil {
		return err
	}
	if !result.IsAuthorized {
		return common.Newf(common.ErrNotAuthorized, "caller is not authorized for %s", wellKnownAction)
	}
	return nil
}

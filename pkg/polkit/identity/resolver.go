//
//  Copyright © Manetu Inc. All rights reserved.
//

package identity

import "context"

// SessionResolver looks up OS-provided session/process information. The
// engine never implements this itself (spec explicit non-goal: "replacing
// system identity services"); production callers supply an implementation
// backed by the real OS session service, and tests supply a fake.
type SessionResolver interface {
	// ProcessUID returns the effective uid of the process identified by subject.
	ProcessUID(ctx context.Context, subject Subject) (int, error)

	// ProcessGroups returns the supplementary group names the process's
	// uid belongs to, used by rule scripts' Subject.isInGroup.
	ProcessGroups(ctx context.Context, subject Subject) ([]string, error)

	// Session returns the session the process belongs to, or ok=false if
	// the process has no associated session.
	Session(ctx context.Context, subject Subject) (sess Session, ok bool, err error)

	// SystemUnit returns the systemd-style unit name owning the process,
	// populated only when the subject's pidfd was obtained end-to-end from
	// the transport (unforgeable); ok=false otherwise.
	SystemUnit(ctx context.Context, subject Subject) (unit string, ok bool)

	// StillAlive reports whether a subject's process still exists. The
	// authority core does not call it, so a check does not re-verify a
	// subject lacking a pidfd around rule evaluation.
	StillAlive(ctx context.Context, subject Subject) (bool, error)
}

// PasswdResolver resolves user/group identities against the OS account
// database, used for display and netgroup-membership lookups.
type PasswdResolver interface {
	// UserName resolves a uid to a login name, or ok=false if unknown.
	UserName(uid int) (name string, ok bool)
	// UserUID resolves a login name to a uid, or ok=false if unknown.
	UserUID(name string) (uid int, ok bool)
	// GroupName resolves a gid to a group name, or ok=false if unknown.
	GroupName(gid int) (name string, ok bool)
	// GroupGID resolves a group name to a gid, or ok=false if unknown.
	GroupGID(name string) (gid int, ok bool)
	// IsInNetgroup reports netgroup membership; implementations on
	// platforms lacking netgroups should return false, nil rather than an
	// error (spec §9 open question — observable behavior preserved here).
	IsInNetgroup(user, netgroup string) (bool, error)
}

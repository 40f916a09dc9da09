//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package identity provides the value types used to describe the
// principals and subjects an authorization decision is made about: a
// [Subject] (the process being queried about) and an [Identity] (a
// principal that can be asked to authenticate).
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// Kind discriminates the variant of an [Identity] or [Subject] value.
type Kind int

const (
	// KindUnixUser identifies a [Identity] naming a local user account.
	KindUnixUser Kind = iota
	// KindUnixGroup identifies a [Identity] naming a local group.
	KindUnixGroup
	// KindUnixNetgroup identifies a [Identity] naming a netgroup.
	KindUnixNetgroup
)

// Identity is a principal that can be asked to authenticate: a user,
// group, or netgroup. The zero value is not a valid Identity.
type Identity struct {
	kind  Kind
	uid   int
	gid   int
	name  string // user/group display name, or the netgroup name
	named bool   // true if the identity was constructed/parsed by name rather than numeric id
}

// NewUnixUser constructs a user identity from a uid.
func NewUnixUser(uid int) Identity {
	return Identity{kind: KindUnixUser, uid: uid}
}

// NewUnixUserByName constructs a user identity from a login name.
func NewUnixUserByName(name string) Identity {
	return Identity{kind: KindUnixUser, name: name, named: true}
}

// NewUnixGroup constructs a group identity from a gid.
func NewUnixGroup(gid int) Identity {
	return Identity{kind: KindUnixGroup, gid: gid}
}

// NewUnixGroupByName constructs a group identity from a group name.
func NewUnixGroupByName(name string) Identity {
	return Identity{kind: KindUnixGroup, name: name, named: true}
}

// NewUnixNetgroup constructs a netgroup identity.
func NewUnixNetgroup(name string) Identity {
	return Identity{kind: KindUnixNetgroup, name: name}
}

// Kind returns the identity's variant.
func (i Identity) Kind() Kind { return i.kind }

// UID returns the numeric uid for a [KindUnixUser] identity constructed
// numerically; zero otherwise.
func (i Identity) UID() int { return i.uid }

// GID returns the numeric gid for a [KindUnixGroup] identity constructed
// numerically; zero otherwise.
func (i Identity) GID() int { return i.gid }

// Name returns the display name for named identities (users/groups
// constructed by name, and all netgroups).
func (i Identity) Name() string { return i.name }

// String renders the identity in its canonical serialized form:
// "unix-user:<name-or-uid>", "unix-group:<name-or-gid>", "unix-netgroup:<name>".
func (i Identity) String() string {
	switch i.kind {
	case KindUnixUser:
		if i.named {
			return "unix-user:" + i.name
		}
		return "unix-user:" + strconv.Itoa(i.uid)
	case KindUnixGroup:
		if i.named {
			return "unix-group:" + i.name
		}
		return "unix-group:" + strconv.Itoa(i.gid)
	case KindUnixNetgroup:
		return "unix-netgroup:" + i.name
	default:
		return ""
	}
}

// Equal reports whether two identities denote the same principal.
//
// Numeric and named forms of the same user/group compare unequal unless
// resolved through [PasswdResolver] first; callers needing semantic equality
// across forms should resolve both sides before comparing.
func (i Identity) Equal(other Identity) bool {
	return i == other
}

// ParseIdentity parses the canonical "unix-user:...", "unix-group:...",
// or "unix-netgroup:..." string form of an identity.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Identity{}, common.Newf(common.ErrInvalidArgument, "invalid identity string %q", s)
	}
	kind, value := parts[0], parts[1]

	switch kind {
	case "unix-user":
		if uid, err := strconv.Atoi(value); err == nil {
			return NewUnixUser(uid), nil
		}
		return NewUnixUserByName(value), nil
	case "unix-group":
		if gid, err := strconv.Atoi(value); err == nil {
			return NewUnixGroup(gid), nil
		}
		return NewUnixGroupByName(value), nil
	case "unix-netgroup":
		return NewUnixNetgroup(value), nil
	default:
		return Identity{}, common.Newf(common.ErrInvalidArgument, "invalid identity string %q", s)
	}
}

// Subject is the process (or named bus endpoint resolving to a process)
// being queried about in an authorization check.
type Subject struct {
	// IsBusName is true when this value represents a SystemBusName
	// subject not yet resolved to a process.
	IsBusName bool
	BusName   string

	PID       int
	StartTime uint64
	UIDHint   *int
	PIDFD     uintptr // 0 when unavailable

	hasPIDFD bool
}

// NewUnixProcess constructs a UnixProcess subject. Returns an error if pid
// is not positive, per the spec's invariant that pid <= 0 is invalid.
func NewUnixProcess(pid int, startTime uint64, uidHint *int) (Subject, error) {
	if pid <= 0 {
		return Subject{}, common.Newf(common.ErrInvalidArgument, "invalid pid %d: must be positive", pid)
	}
	return Subject{PID: pid, StartTime: startTime, UIDHint: uidHint}, nil
}

// NewUnixProcessWithPIDFD constructs a UnixProcess subject carrying a
// kernel pidfd, which makes the process identity stable across a check
// without needing to re-read /proc before and after rule evaluation.
func NewUnixProcessWithPIDFD(pid int, startTime uint64, uidHint *int, pidfd uintptr) (Subject, error) {
	s, err := NewUnixProcess(pid, startTime, uidHint)
	if err != nil {
		return Subject{}, err
	}
	s.PIDFD = pidfd
	s.hasPIDFD = true
	return s, nil
}

// HasPIDFD reports whether this subject carries an unforgeable pidfd.
func (s Subject) HasPIDFD() bool { return s.hasPIDFD }

// NewSystemBusName constructs a SystemBusName subject, resolvable to a
// process by the transport layer (out of scope here).
func NewSystemBusName(name string) (Subject, error) {
	if name == "" {
		return Subject{}, common.New(common.ErrInvalidArgument, "bus name must not be empty")
	}
	return Subject{IsBusName: true, BusName: name}, nil
}

// String renders a human-readable description of the subject, used in log
// lines and error messages.
func (s Subject) String() string {
	if s.IsBusName {
		return fmt.Sprintf("system-bus-name:%s", s.BusName)
	}
	return fmt.Sprintf("unix-process:%d:%d", s.PID, s.StartTime)
}

// ProcessKey identifies the process uniquely for process-scoped
// temporary-authorization matching: by pidfd when available (stable
// across re-use of the pid number), else by (pid, start_time).
func (s Subject) ProcessKey() string {
	if s.hasPIDFD {
		return fmt.Sprintf("pidfd:%d", s.PIDFD)
	}
	return fmt.Sprintf("pid:%d:%d", s.PID, s.StartTime)
}

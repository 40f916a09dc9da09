//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package tempcache implements the temporary-authorization cache: grants
// issued after a successful "_retained" authentication, scoped either to
// an exact process or to a whole session, and consulted by the authority
// core once the implicit authorization it arrived at requires
// authentication, before any agent dialogue is started.
package tempcache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
)

var logger = logging.GetLogger("tempcache")

const agent = "tempcache"

// Scope discriminates how broadly a [Grant] applies.
type Scope int

const (
	// ScopeProcess ties a grant to one exact (pid, start_time) or pidfd.
	ScopeProcess Scope = iota
	// ScopeSession ties a grant to every subject belonging to a session.
	ScopeSession
)

// Grant is a single temporary-authorization entry.
type Grant struct {
	ID         string
	ActionID   string
	Scope      Scope
	ProcessKey string // populated when Scope == ScopeProcess
	SessionID  string // populated when Scope == ScopeSession
	GrantedAt  time.Time
	ExpiresAt  time.Time // zero means no expiry
}

func (g *Grant) expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// Cache is the in-memory temporary-authorization store. It is safe for
// concurrent use, though the authority's single-threaded dispatcher model
// means contention is not expected in practice.
type Cache struct {
	mu     sync.Mutex
	grants map[string]*Grant // keyed by Grant.ID
}

// New constructs an empty cache.
func New() *Cache {
	return &Cache{grants: map[string]*Grant{}}
}

// Insert records a new grant for subject/actionID and returns it. The
// grant is session-scoped when sessionScoped is true and sessionID is
// non-empty, and process-scoped otherwise. A ttl of zero means the grant
// never expires; a negative ttl yields a grant that is already expired.
func (c *Cache) Insert(subject identity.Subject, sessionID string, sessionScoped bool, actionID string, ttl time.Duration) *Grant {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := &Grant{
		ID:        uuid.NewString(),
		ActionID:  actionID,
		GrantedAt: time.Now(),
	}
	if sessionScoped && sessionID != "" {
		g.Scope = ScopeSession
		g.SessionID = sessionID
	} else {
		g.Scope = ScopeProcess
		g.ProcessKey = subject.ProcessKey()
	}
	if ttl != 0 {
		g.ExpiresAt = g.GrantedAt.Add(ttl)
	}

	c.grants[g.ID] = g
	return g
}

// Lookup reports whether a matching, unexpired grant exists for
// (subject, sessionID, actionID). Process-scope grants match only the
// exact process; session-scope grants match any subject in the same
// session, per spec §4.5 "Matching". Expired entries are filtered here
// without being removed (lazy expiry on lookup).
func (c *Cache) Lookup(subject identity.Subject, sessionID string, actionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	procKey := subject.ProcessKey()

	for _, g := range c.grants {
		if g.ActionID != actionID || g.expired(now) {
			continue
		}
		switch g.Scope {
		case ScopeProcess:
			if g.ProcessKey == procKey {
				return true
			}
		case ScopeSession:
			if sessionID != "" && g.SessionID == sessionID {
				return true
			}
		}
	}
	return false
}

// RevokeOne removes a single grant by its opaque id. Revoking an unknown
// id is a no-op (idempotent), matching the spec's cancellation-idempotence
// principle applied here.
func (c *Cache) RevokeOne(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, id)
}

// RevokeAllForSubject removes every grant whose process-scope matches
// subject exactly, or whose session-scope matches subject's session.
func (c *Cache) RevokeAllForSubject(subject identity.Subject, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	procKey := subject.ProcessKey()
	for id, g := range c.grants {
		switch g.Scope {
		case ScopeProcess:
			if g.ProcessKey == procKey {
				delete(c.grants, id)
			}
		case ScopeSession:
			if sessionID != "" && g.SessionID == sessionID {
				delete(c.grants, id)
			}
		}
	}
}

// RevokeSession removes every session-scoped grant for sessionID. Called
// when the OS session service signals a session has ended, per spec §4.5
// "Revoking a session's grants is implied when the session ends."
func (c *Cache) RevokeSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, g := range c.grants {
		if g.Scope == ScopeSession && g.SessionID == sessionID {
			delete(c.grants, id)
		}
	}
}

// EnumerateForSubject returns every unexpired grant visible to subject
// (its own process grants, plus any session-scope grant for sessionID),
// actively removing expired entries encountered along the way, per
// spec §4.5 "Expiry".
func (c *Cache) EnumerateForSubject(subject identity.Subject, sessionID string) []*Grant {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	procKey := subject.ProcessKey()

	var out []*Grant
	for id, g := range c.grants {
		if g.expired(now) {
			delete(c.grants, id)
			continue
		}
		switch g.Scope {
		case ScopeProcess:
			if g.ProcessKey == procKey {
				out = append(out, g)
			}
		case ScopeSession:
			if sessionID != "" && g.SessionID == sessionID {
				out = append(out, g)
			}
		}
	}
	return out
}

// Sweep actively evicts every expired grant, independent of lookup or
// enumeration traffic. Intended to be called periodically on
// config.TempCacheSweepInterval.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, g := range c.grants {
		if g.expired(now) {
			delete(c.grants, id)
		}
	}
}

// StartSweeper launches a goroutine that calls Sweep every interval until
// stop is closed.
func (c *Cache) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.Sweep()
			}
		}
	}()
}

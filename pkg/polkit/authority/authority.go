//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package authority provides the primary public interface for making
// authorization decisions, wrapping the internal decision pipeline
// behind an [Authority] interface applications embed or mock.
//
// # Quick Start
//
//	a, err := authority.New(authority.Options{
//	    RuleDirs:   config.DefaultRuleDirs,
//	    PolicyDirs: config.DefaultPolicyDirs,
//	    Resolver:   myResolver,
//	    Passwd:     myPasswd,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := a.CheckAuthorization(ctx, engine.Request{
//	    Subject:  subject,
//	    ActionID: "org.example.foo",
//	    Flags:    engine.FlagAllowUserInteraction,
//	})
package authority

import (
	"context"
	"sync"
	"time"

	"github.com/polkit-go/polkitd/internal/engine"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/action"
	"github.com/polkit-go/polkitd/pkg/polkit/agent"
	"github.com/polkit-go/polkitd/pkg/polkit/config"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
	"github.com/polkit-go/polkitd/pkg/polkit/ruleshost"
	"github.com/polkit-go/polkitd/pkg/polkit/tempcache"
)

var logger = logging.GetLogger("authority")

const logAgent = "authority"

// Authority is the primary interface for making authorization decisions
// and administering the action registry, temporary-authorization cache,
// and authentication-agent registrations.
//
// Implementations are safe for concurrent use by multiple goroutines.
type Authority interface {
	// CheckAuthorization evaluates an authorization request and returns
	// the decision, per spec §4.7.
	CheckAuthorization(ctx context.Context, req engine.Request) (engine.AuthorizationResult, error)

	// CancelCheckAuthorization cancels an in-flight request scoped to
	// (callerBusName, cancellationID).
	CancelCheckAuthorization(callerBusName, cancellationID string) error

	// AuthenticationAgentResponse completes a pending authentication.
	AuthenticationAgentResponse(callerBusName, cookie, identity string) error

	// EnumerateActions returns every registered action, localized for lang.
	EnumerateActions(lang string) []*action.LocalizedDescription

	// RegisterAgent and UnregisterAgent manage authentication-agent
	// registrations, per spec §4.6.
	RegisterAgent(scope agent.Scope, locale, objectPath, ownerBusName string, uid int, options map[string]string) (*agent.Registration, error)
	UnregisterAgent(scope agent.Scope, ownerBusName, objectPath string) error
	AgentPeerDied(ownerBusName string)

	// EnumerateTemporaryAuthorizations and Revoke* manage the temporary-
	// authorization cache, per spec §4.5.
	EnumerateTemporaryAuthorizations(subject identity.Subject, sessionID string) []*tempcache.Grant
	RevokeTemporaryAuthorizations(subject identity.Subject, sessionID string)
	RevokeTemporaryAuthorizationByID(id string)

	// Changed fans out a notification after every action-registry or
	// rule-host reload completes, per spec §4.8 "Emits a Changed event
	// after every reload." Each call returns an independent subscriber
	// channel.
	Changed() <-chan struct{}

	// Close releases file-monitor handles and stops background sweepers.
	Close()
}

// Options configures a new Authority.
type Options struct {
	RuleDirs    []string
	PolicyDirs  []string
	OverrideDir string

	Resolver identity.SessionResolver
	Passwd   identity.PasswdResolver

	RuleHostOptions ruleshost.Options

	TempCacheSweepInterval time.Duration
}

// impl is the default [Authority] implementation, wrapping [engine.Engine].
type impl struct {
	instance *engine.Engine

	registry *action.Registry
	host     *ruleshost.Host
	cache    *tempcache.Cache
	agents   *agent.Registry

	changedMu        sync.Mutex
	changedListeners []chan struct{}

	stop chan struct{}
}

// New constructs and fully initializes an Authority: loading the action
// registry and rule host from disk and starting their reload watches. A
// failure constructing the rule host is fatal, per spec §4.3.
func New(opts Options) (Authority, error) {
	registry, err := action.NewRegistry(opts.PolicyDirs, opts.OverrideDir)
	if err != nil {
		return nil, err
	}

	host, err := ruleshost.New(opts.RuleDirs, opts.RuleHostOptions)
	if err != nil {
		return nil, err
	}

	cache := tempcache.New()
	agents := agent.New()

	inst := engine.New(registry, host, cache, agents, opts.Resolver, opts.Passwd)

	a := &impl{
		instance: inst,
		registry: registry,
		host:     host,
		cache:    cache,
		agents:   agents,
		stop:     make(chan struct{}),
	}

	sweep := opts.TempCacheSweepInterval
	if sweep <= 0 {
		config.Init()
		sweep = config.VConfig.GetDuration(config.TempCacheSweepInterval)
	}
	cache.StartSweeper(sweep, a.stop)

	go func() {
		for range registry.Changed() {
			a.fireChanged()
		}
	}()

	if ruleChanged, stopWatch, err := host.Watch(); err == nil {
		go func() {
			for {
				select {
				case <-a.stop:
					stopWatch()
					return
				case <-ruleChanged:
					a.fireChanged()
				}
			}
		}()
	} else {
		logger.Warnf(logAgent, "New", "rule-directory watch unavailable: %+v", err)
	}

	return a, nil
}

func (a *impl) fireChanged() {
	a.changedMu.Lock()
	defer a.changedMu.Unlock()
	for _, ch := range a.changedListeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (a *impl) Changed() <-chan struct{} {
	ch := make(chan struct{}, 1)
	a.changedMu.Lock()
	a.changedListeners = append(a.changedListeners, ch)
	a.changedMu.Unlock()
	return ch
}

func (a *impl) CheckAuthorization(ctx context.Context, req engine.Request) (engine.AuthorizationResult, error) {
	return a.instance.CheckAuthorization(ctx, req)
}

func (a *impl) CancelCheckAuthorization(callerBusName, cancellationID string) error {
	return a.instance.CancelCheckAuthorization(callerBusName, cancellationID)
}

func (a *impl) AuthenticationAgentResponse(callerBusName, cookie, identity string) error {
	return a.instance.AuthenticationAgentResponse(callerBusName, cookie, identity)
}

func (a *impl) EnumerateActions(lang string) []*action.LocalizedDescription {
	return a.registry.Enumerate(lang)
}

func (a *impl) RegisterAgent(scope agent.Scope, locale, objectPath, ownerBusName string, uid int, options map[string]string) (*agent.Registration, error) {
	return a.agents.Register(scope, locale, objectPath, ownerBusName, uid, options)
}

func (a *impl) UnregisterAgent(scope agent.Scope, ownerBusName, objectPath string) error {
	return a.agents.Unregister(scope, ownerBusName, objectPath)
}

func (a *impl) AgentPeerDied(ownerBusName string) {
	a.agents.PeerDied(ownerBusName)
}

func (a *impl) EnumerateTemporaryAuthorizations(subject identity.Subject, sessionID string) []*tempcache.Grant {
	return a.cache.EnumerateForSubject(subject, sessionID)
}

func (a *impl) RevokeTemporaryAuthorizations(subject identity.Subject, sessionID string) {
	a.cache.RevokeAllForSubject(subject, sessionID)
}

func (a *impl) RevokeTemporaryAuthorizationByID(id string) {
	a.cache.RevokeOne(id)
}

func (a *impl) Close() {
	close(a.stop)
	a.registry.Close()
}

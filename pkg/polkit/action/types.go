//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package action provides the action registry: parsing of action-description
// XML ("*.policy") files into immutable [Description] records, per-action
// default-override application, and lookup/enumeration used by the
// authority core.
package action

import (
	"regexp"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// Implicit is one of the fixed implicit-authorization values an action's
// defaults (or a rule's return value) may carry.
type Implicit string

// The fixed set of implicit-authorization tokens, exact spelling per spec §6.
const (
	ImplicitNotAuthorized                  Implicit = "not-authorized"
	ImplicitAuthRequired                   Implicit = "authentication-required"
	ImplicitAdminAuthRequired              Implicit = "administrator-authentication-required"
	ImplicitAuthRequiredRetained           Implicit = "authentication-required-retained"
	ImplicitAdminAuthRequiredRetained      Implicit = "administrator-authentication-required-retained"
	ImplicitAuthorized                     Implicit = "authorized"
)

// policyFileTokens maps the policy-file vocabulary (spec §6: no / yes /
// auth_self / auth_self_keep / auth_admin / auth_admin_keep, plus the
// historical "_keep_session"/"_keep_always" aliases) onto the canonical
// [Implicit] set.
var policyFileTokens = map[string]Implicit{
	"no":                       ImplicitNotAuthorized,
	"yes":                      ImplicitAuthorized,
	"auth_self":                ImplicitAuthRequired,
	"auth_self_keep":           ImplicitAuthRequiredRetained,
	"auth_self_keep_session":   ImplicitAuthRequiredRetained,
	"auth_self_keep_always":    ImplicitAuthRequiredRetained,
	"auth_admin":               ImplicitAdminAuthRequired,
	"auth_admin_keep":          ImplicitAdminAuthRequiredRetained,
	"auth_admin_keep_session":  ImplicitAdminAuthRequiredRetained,
	"auth_admin_keep_always":   ImplicitAdminAuthRequiredRetained,
}

// canonicalToToken renders an Implicit back to its policy-file token form
// (the non-historical spelling), used by the overrides writer's round trip.
var canonicalToToken = map[Implicit]string{
	ImplicitNotAuthorized:             "no",
	ImplicitAuthorized:                "yes",
	ImplicitAuthRequired:              "auth_self",
	ImplicitAuthRequiredRetained:      "auth_self_keep",
	ImplicitAdminAuthRequired:         "auth_admin",
	ImplicitAdminAuthRequiredRetained: "auth_admin_keep",
}

// ParseImplicit parses a policy-file token into its canonical [Implicit]
// value, accepting the historical "_keep_session"/"_keep_always" aliases.
func ParseImplicit(token string) (Implicit, error) {
	if v, ok := policyFileTokens[token]; ok {
		return v, nil
	}
	return "", common.Newf(common.ErrInvalidArgument, "invalid implicit-authorization token %q", token)
}

// String renders the canonical policy-file token for this value.
func (i Implicit) String() string {
	if t, ok := canonicalToToken[i]; ok {
		return t
	}
	return string(i)
}

// Valid reports whether i is one of the six canonical implicit values.
func (i Implicit) Valid() bool {
	_, ok := canonicalToToken[i]
	return ok
}

// IsRetained reports whether a successful authentication under this
// implicit value should be cached for the duration of the session (the
// "_keep"/"_retained" variants).
func (i Implicit) IsRetained() bool {
	return i == ImplicitAuthRequiredRetained || i == ImplicitAdminAuthRequiredRetained
}

// IsAdmin reports whether authenticating under this implicit value
// requires an administrator identity rather than the subject's own.
func (i Implicit) IsAdmin() bool {
	return i == ImplicitAdminAuthRequired || i == ImplicitAdminAuthRequiredRetained
}

// RequiresAuth reports whether this implicit value is neither a terminal
// "authorized" nor "not-authorized" decision.
func (i Implicit) RequiresAuth() bool {
	return i != ImplicitAuthorized && i != ImplicitNotAuthorized
}

// Triple holds the three locality/activity-scoped implicit-authorization
// values an action's defaults specify.
type Triple struct {
	AllowAny      Implicit
	AllowInactive Implicit
	AllowActive   Implicit
}

// Pick selects the applicable implicit value for a subject's computed
// locality/activity, per spec §4.7 step 5:
//
//	local && active   -> AllowActive
//	local && !active  -> AllowInactive
//	!local            -> AllowAny
func (t Triple) Pick(isLocal, isActive bool) Implicit {
	switch {
	case isLocal && isActive:
		return t.AllowActive
	case isLocal && !isActive:
		return t.AllowInactive
	default:
		return t.AllowAny
	}
}

// idPattern matches the dotted reverse-DNS action id grammar from spec §3:
// ^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$`)

// ValidID reports whether id matches the required action-id grammar.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Description is an immutable action-description record. Once published
// by the registry it is never mutated in place; a reload replaces the
// whole registry pointer atomically (spec §3 "Ownership").
type Description struct {
	ID        string
	Vendor    string
	VendorURL string
	IconName  string

	// DescriptionByLang and MessageByLang map xml:lang (or "" for the
	// untagged default) to the localized text.
	DescriptionByLang map[string]string
	MessageByLang     map[string]string

	Annotations map[string]string

	// FactoryDefault is set from the policy file and never mutates.
	FactoryDefault Triple
	// CurrentDefault equals FactoryDefault unless a defaults-override file
	// existed at load time.
	CurrentDefault Triple

	// sourceFile records which file defined this action, for diagnostics
	// only; not part of the value's equality/serialization contract.
	sourceFile string
}

// SourceFile returns the path of the policy file that defined this action,
// for error-message and enumeration diagnostics.
func (d *Description) SourceFile() string { return d.sourceFile }

// LocalizedDescription is the locale-resolved view of a [Description]
// handed back by enumeration, per spec §4.2 ("localization happens at
// lookup time") and §4.8 enumerate_actions(locale): Description and
// Message are already resolved for the requested language, rather than
// exposing the raw per-language tables.
type LocalizedDescription struct {
	ID        string
	Vendor    string
	VendorURL string
	IconName  string

	Description string
	Message     string

	Annotations map[string]string

	FactoryDefault Triple
	CurrentDefault Triple
}

// Localize resolves d's Description/Message for lang, per [Localized].
func (d *Description) Localize(lang string) *LocalizedDescription {
	return &LocalizedDescription{
		ID:             d.ID,
		Vendor:         d.Vendor,
		VendorURL:      d.VendorURL,
		IconName:       d.IconName,
		Description:    Localized(d.DescriptionByLang, lang),
		Message:        Localized(d.MessageByLang, lang),
		Annotations:    d.Annotations,
		FactoryDefault: d.FactoryDefault,
		CurrentDefault: d.CurrentDefault,
	}
}

// Localized resolves the best-matching localized string for lang out of a
// per-string table, per spec §4.2 "Localization": strip ".enc", try exact
// match, strip "_YY" and retry, then fall back to the untagged value.
// Resolution happens at lookup time so a later locale change does not
// require a registry reload.
func Localized(table map[string]string, lang string) string {
	if v, ok := table[lang]; ok {
		return v
	}

	l := lang
	if i := indexByte(l, '.'); i >= 0 {
		l = l[:i]
	}
	if v, ok := table[l]; ok {
		return v
	}
	if i := indexByte(l, '_'); i >= 0 {
		base := l[:i]
		if v, ok := table[base]; ok {
			return v
		}
	}
	return table[""]
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"testing"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImplicitCanonicalAndHistoricalAliases(t *testing.T) {
	tests := []struct {
		token string
		want  Implicit
	}{
		{"no", ImplicitNotAuthorized},
		{"yes", ImplicitAuthorized},
		{"auth_self", ImplicitAuthRequired},
		{"auth_self_keep", ImplicitAuthRequiredRetained},
		{"auth_self_keep_session", ImplicitAuthRequiredRetained},
		{"auth_self_keep_always", ImplicitAuthRequiredRetained},
		{"auth_admin", ImplicitAdminAuthRequired},
		{"auth_admin_keep", ImplicitAdminAuthRequiredRetained},
		{"auth_admin_keep_session", ImplicitAdminAuthRequiredRetained},
		{"auth_admin_keep_always", ImplicitAdminAuthRequiredRetained},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseImplicit(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseImplicitRejectsUnknownToken(t *testing.T) {
	_, err := ParseImplicit("maybe")
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))
}

func TestImplicitStringNormalizesHistoricalAliases(t *testing.T) {
	v, err := ParseImplicit("auth_admin_keep_always")
	require.NoError(t, err)
	assert.Equal(t, "auth_admin_keep", v.String())
}

func TestImplicitPredicates(t *testing.T) {
	assert.True(t, ImplicitAuthRequiredRetained.IsRetained())
	assert.True(t, ImplicitAdminAuthRequiredRetained.IsRetained())
	assert.False(t, ImplicitAuthRequired.IsRetained())

	assert.True(t, ImplicitAdminAuthRequired.IsAdmin())
	assert.True(t, ImplicitAdminAuthRequiredRetained.IsAdmin())
	assert.False(t, ImplicitAuthRequired.IsAdmin())

	assert.False(t, ImplicitAuthorized.RequiresAuth())
	assert.False(t, ImplicitNotAuthorized.RequiresAuth())
	assert.True(t, ImplicitAuthRequired.RequiresAuth())
}

func TestTriplePick(t *testing.T) {
	tr := Triple{
		AllowAny:      ImplicitNotAuthorized,
		AllowInactive: ImplicitAuthRequired,
		AllowActive:   ImplicitAuthorized,
	}

	assert.Equal(t, ImplicitAuthorized, tr.Pick(true, true))
	assert.Equal(t, ImplicitAuthRequired, tr.Pick(true, false))
	assert.Equal(t, ImplicitNotAuthorized, tr.Pick(false, true))
	assert.Equal(t, ImplicitNotAuthorized, tr.Pick(false, false))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("org.example.foo"))
	assert.True(t, ValidID("org.example.foo-bar"))
	assert.False(t, ValidID("org"), "requires at least one dot-separated segment beyond the first")
	assert.False(t, ValidID("Org.Example.Foo"), "uppercase is rejected")
	assert.False(t, ValidID("org..foo"), "empty segment is rejected")
}

func TestLocalizedFallsBackThroughVariants(t *testing.T) {
	table := map[string]string{
		"":      "default text",
		"fr":    "texte francais",
		"en_US": "American text",
	}

	assert.Equal(t, "American text", Localized(table, "en_US"))
	assert.Equal(t, "texte francais", Localized(table, "fr"))
	assert.Equal(t, "texte francais", Localized(table, "fr_CA"), "falls back by stripping the region suffix")
	assert.Equal(t, "default text", Localized(table, "de_DE"), "falls back to the untagged default")
	assert.Equal(t, "American text", Localized(table, "en_US.UTF-8"), "strips the encoding suffix before matching")
}

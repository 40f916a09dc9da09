//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRegistryLoadsAndEnumeratesSorted(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "b.policy", `<policyconfig>
  <action id="org.example.zebra">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`)
	writePolicyFile(t, dir, "a.policy", `<policyconfig>
  <action id="org.example.apple">
    <defaults><allow_any>yes</allow_any></defaults>
  </action>
</policyconfig>`)

	r, err := NewRegistry([]string{dir}, "")
	require.NoError(t, err)
	defer r.Close()

	ids := make([]string, 0)
	for _, d := range r.Enumerate("") {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"org.example.apple", "org.example.zebra"}, ids, "enumeration is sorted by id regardless of file load order")

	d, ok := r.Get("org.example.apple")
	require.True(t, ok)
	assert.Equal(t, ImplicitAuthorized, d.CurrentDefault.AllowAny)
}

func TestRegistryAppliesOverride(t *testing.T) {
	policyDir := t.TempDir()
	overrideDir := t.TempDir()

	writePolicyFile(t, policyDir, "a.policy", `<policyconfig>
  <action id="org.example.foo">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`)

	store := NewOverrideStore(overrideDir)
	require.NoError(t, store.Write("org.example.foo", Triple{
		AllowAny:      ImplicitAuthorized,
		AllowInactive: ImplicitAuthorized,
		AllowActive:   ImplicitAuthorized,
	}))

	r, err := NewRegistry([]string{policyDir}, overrideDir)
	require.NoError(t, err)
	defer r.Close()

	d, ok := r.Get("org.example.foo")
	require.True(t, ok)
	assert.Equal(t, ImplicitNotAuthorized, d.FactoryDefault.AllowAny)
	assert.Equal(t, ImplicitAuthorized, d.CurrentDefault.AllowAny, "an override replaces current_default without touching factory_default")
}

func TestRegistryGetUnknownID(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry([]string{dir}, "")
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Get("org.example.does-not-exist")
	assert.False(t, ok)
}

func TestRegistryChangedFiresOnReload(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a.policy", `<policyconfig>
  <action id="org.example.foo">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`)

	r, err := NewRegistry([]string{dir}, "")
	require.NoError(t, err)
	defer r.Close()

	writePolicyFile(t, dir, "b.policy", `<policyconfig>
  <action id="org.example.bar">
    <defaults><allow_any>yes</allow_any></defaults>
  </action>
</policyconfig>`)
	require.NoError(t, r.reload())

	select {
	case <-r.Changed():
	case <-time.After(time.Second):
		t.Fatal("expected a Changed notification after reload")
	}

	_, ok := r.Get("org.example.bar")
	assert.True(t, ok)
}

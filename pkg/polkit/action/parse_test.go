//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `<?xml version="1.0" encoding="UTF-8"?>
<policyconfig>
  <vendor>Example Corp</vendor>
  <vendor_url>https://example.com</vendor_url>
  <icon_name>example-icon</icon_name>

  <action id="org.example.foo">
    <description>Do the foo thing</description>
    <description xml:lang="fr">Faire le foo</description>
    <message>Authentication is required to do the foo thing</message>
    <annotate key="org.freedesktop.policykit.exec.path">/usr/bin/foo</annotate>
    <defaults>
      <allow_any>no</allow_any>
      <allow_inactive>no</allow_inactive>
      <allow_active>auth_admin_keep</allow_active>
    </defaults>
  </action>

  <action id="org.example.bar">
    <description>Do the bar thing</description>
    <message>Authentication is required to do the bar thing</message>
    <defaults>
      <allow_any>yes</allow_any>
    </defaults>
  </action>
</policyconfig>`

func TestParsePolicyFileBasic(t *testing.T) {
	result, err := parsePolicyFile(strings.NewReader(samplePolicy), nil)
	require.NoError(t, err)
	require.Len(t, result.actions, 2)

	assert.Equal(t, "Example Corp", result.globalVendor)
	assert.Equal(t, "https://example.com", result.globalVendorURL)

	foo := result.actions[0]
	assert.Equal(t, "org.example.foo", foo.id)
	assert.Equal(t, "Do the foo thing", foo.descByLang[""])
	assert.Equal(t, "Faire le foo", foo.descByLang["fr"])
	assert.Equal(t, "/usr/bin/foo", foo.annotations["org.freedesktop.policykit.exec.path"])
	assert.Equal(t, ImplicitNotAuthorized, foo.defaults.AllowAny)
	assert.Equal(t, ImplicitAdminAuthRequiredRetained, foo.defaults.AllowActive)

	bar := result.actions[1]
	assert.Equal(t, ImplicitAuthorized, bar.defaults.AllowAny)
	assert.Equal(t, ImplicitNotAuthorized, bar.defaults.AllowInactive, "missing defaults children default to not-authorized")
	assert.Equal(t, ImplicitNotAuthorized, bar.defaults.AllowActive)
}

func TestParsePolicyFileDropsInvalidActionButKeepsOthers(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<policyconfig>
  <action id="Not Valid">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
  <action id="org.example.good">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`

	var warnings []string
	result, err := parsePolicyFile(strings.NewReader(doc), func(msg string) {
		warnings = append(warnings, msg)
	})
	require.NoError(t, err)
	require.Len(t, result.actions, 1)
	assert.Equal(t, "org.example.good", result.actions[0].id)
	assert.NotEmpty(t, warnings)
}

func TestParsePolicyFileRejectsExcessiveNesting(t *testing.T) {
	var b strings.Builder
	b.WriteString("<policyconfig>")
	for i := 0; i < maxNestingDepth+1; i++ {
		b.WriteString("<wrap>")
	}
	for i := 0; i < maxNestingDepth+1; i++ {
		b.WriteString("</wrap>")
	}
	b.WriteString("</policyconfig>")

	_, err := parsePolicyFile(strings.NewReader(b.String()), nil)
	require.Error(t, err)
}

func TestParsePolicyFileRejectsIconNameWithPathOrSuffix(t *testing.T) {
	const doc = `<policyconfig>
  <action id="org.example.foo">
    <icon_name>../evil.png</icon_name>
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`

	var warnings []string
	result, err := parsePolicyFile(strings.NewReader(doc), func(msg string) {
		warnings = append(warnings, msg)
	})
	require.NoError(t, err)
	assert.Empty(t, result.actions, "the action carrying the bad icon_name is dropped")
	assert.NotEmpty(t, warnings)
}

func TestParsePolicyFileSkipsUnknownElements(t *testing.T) {
	const doc = `<policyconfig>
  <future-extension>ignored</future-extension>
  <action id="org.example.foo">
    <defaults><allow_any>no</allow_any></defaults>
  </action>
</policyconfig>`

	var warnings []string
	result, err := parsePolicyFile(strings.NewReader(doc), func(msg string) {
		warnings = append(warnings, msg)
	})
	require.NoError(t, err)
	require.Len(t, result.actions, 1)
	assert.NotEmpty(t, warnings)
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package identity

import (
	"testing"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{"numeric user", NewUnixUser(1000), "unix-user:1000"},
		{"named user", NewUnixUserByName("alice"), "unix-user:alice"},
		{"numeric group", NewUnixGroup(100), "unix-group:100"},
		{"named group", NewUnixGroupByName("wheel"), "unix-group:wheel"},
		{"netgroup", NewUnixNetgroup("admins"), "unix-netgroup:admins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.String())

			parsed, err := ParseIdentity(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseIdentityRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "nocolon", "unix-user:", "bogus-kind:1000"} {
		_, err := ParseIdentity(s)
		require.Error(t, err, s)
		assert.True(t, common.Is(err, common.ErrInvalidArgument))
	}
}

func TestIdentityEqual(t *testing.T) {
	assert.True(t, NewUnixUser(1000).Equal(NewUnixUser(1000)))
	assert.False(t, NewUnixUser(1000).Equal(NewUnixUser(1001)))
	assert.False(t, NewUnixUser(1000).Equal(NewUnixUserByName("1000")), "numeric and named forms of the same account compare unequal")
}

func TestNewUnixProcessRejectsNonPositivePID(t *testing.T) {
	_, err := NewUnixProcess(0, 0, nil)
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))

	_, err = NewUnixProcess(-1, 0, nil)
	require.Error(t, err)
}

func TestNewSystemBusNameRejectsEmpty(t *testing.T) {
	_, err := NewSystemBusName("")
	require.Error(t, err)
	assert.True(t, common.Is(err, common.ErrInvalidArgument))
}

func TestSubjectProcessKeyDistinguishesPIDReuse(t *testing.T) {
	a, err := NewUnixProcess(100, 111, nil)
	require.NoError(t, err)
	b, err := NewUnixProcess(100, 222, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ProcessKey(), b.ProcessKey(), "the same pid with a different start_time is a different process")
}

func TestSubjectProcessKeyPrefersPIDFD(t *testing.T) {
	s, err := NewUnixProcessWithPIDFD(100, 111, nil, 42)
	require.NoError(t, err)
	assert.True(t, s.HasPIDFD())
	assert.Equal(t, "pidfd:42", s.ProcessKey())
}

func TestSubjectStringDistinguishesBusNameFromProcess(t *testing.T) {
	proc, err := NewUnixProcess(100, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "unix-process:100:0", proc.String())

	bus, err := NewSystemBusName(":1.42")
	require.NoError(t, err)
	assert.Equal(t, "system-bus-name::1.42", bus.String())
}

func TestDetailsHasReservedKeys(t *testing.T) {
	assert.True(t, Details{"polkit.icon_name": "x"}.HasReservedKeys())
	assert.False(t, Details{"other-key": "x"}.HasReservedKeys())
	assert.False(t, Details(nil).HasReservedKeys())
}

func TestDetailsCloneIsIndependent(t *testing.T) {
	d := Details{"k": "v"}
	clone := d.Clone()
	clone["k"] = "changed"
	assert.Equal(t, "v", d["k"])
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldHandle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase unchanged", "bob", "bob"},
		{"mixed case", "BoB", "bob"},
		{"surrounding space", "  alice ", "alice"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FoldHandle(tt.in))
		})
	}
}

func TestSubscription_AllowsChannel(t *testing.T) {
	open := NewSubscription("1", 42)
	assert.True(t, open.AllowsChannel("general"))
	assert.True(t, open.AllowsChannel("anything"))

	restricted := NewSubscription("2", 42)
	restricted.Channels.Add("general")
	assert.True(t, restricted.AllowsChannel("general"))
	assert.False(t, restricted.AllowsChannel("dev"))

	var partial Subscription
	assert.True(t, partial.AllowsChannel("dev"), "absent whitelist means all channels")
}

func TestSubscription_IsActive(t *testing.T) {
	sub := NewSubscription("1", 42)
	assert.True(t, sub.IsActive(), "absent switch means active")

	sub.SetActive(false)
	assert.False(t, sub.IsActive())

	sub.SetActive(true)
	assert.True(t, sub.IsActive())
}

func TestSubscription_Clone(t *testing.T) {
	sub := NewSubscription("1", 42)
	sub.Roles.Add("core")
	sub.SetActive(false)

	c := sub.Clone()
	c.Roles.Add("extra")
	c.SetActive(true)

	assert.False(t, sub.Roles.Has("extra"))
	assert.False(t, sub.IsActive())
}

func TestStringSet_NilSafe(t *testing.T) {
	var s StringSet
	assert.False(t, s.Has("x"))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Sorted())
	assert.NotNil(t, s.Clone())
}

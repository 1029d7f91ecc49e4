package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIdentity(t *testing.T) {
	t.Run("Groups from a JSON array are kept in order", func(t *testing.T) {
		id := NewIdentity(map[string]any{
			"sub":    "auth|u1",
			"email":  "u1@example.com",
			"groups": []any{"engineering", 42, "ops"},
		})
		assert.Equal(t, "auth|u1", id.Subject)
		assert.Equal(t, "u1@example.com", id.Email)
		assert.Equal(t, []string{"engineering", "ops"}, id.Groups)
		assert.Equal(t, []string{"engineering", "ops"}, id.Claims["groups"])
	})

	t.Run("Null groups claim becomes an empty list", func(t *testing.T) {
		id := NewIdentity(map[string]any{"sub": "u1", "groups": nil})
		assert.NotNil(t, id.Groups)
		assert.Empty(t, id.Groups)
		assert.Equal(t, []string{}, id.Claims["groups"])
	})

	t.Run("Single group string becomes a one element list", func(t *testing.T) {
		id := NewIdentity(map[string]any{"sub": "u1", "groups": "ops"})
		assert.Equal(t, []string{"ops"}, id.Groups)
	})

	t.Run("Name falls back to preferred_username", func(t *testing.T) {
		id := NewIdentity(map[string]any{"sub": "u1", "preferred_username": "jdoe"})
		assert.Equal(t, "jdoe", id.Name)
	})

	t.Run("Caller claims are not modified", func(t *testing.T) {
		claims := map[string]any{"sub": "u1"}
		NewIdentity(claims)
		_, ok := claims["groups"]
		assert.False(t, ok)
	})
}

func TestIdentityInGroup(t *testing.T) {
	id := NewIdentity(map[string]any{"sub": "u1", "groups": []any{"vpn-admins"}})

	assert.True(t, id.InGroup("vpn-admins"))
	assert.False(t, id.InGroup("VPN-Admins"))
	assert.False(t, id.InGroup(""))
}

func TestIdentityLabel(t *testing.T) {
	assert.Equal(t, "auth_browser-user", NewIdentity(map[string]any{"sub": "auth|browser-user"}).Label())
	assert.Equal(t, "jane.doe@example.com", NewIdentity(map[string]any{"sub": "jane.doe@example.com"}).Label())
	assert.Equal(t, "CN_x_O_y_z_", NewIdentity(map[string]any{"sub": "CN=x/O=y z!"}).Label())
}

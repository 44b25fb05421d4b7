package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/types"
)

func TestKeystoreSeedsDemoKeyWhenEmpty(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{Enabled: true})

	key, err := ks.Authenticate(DemoKey)
	require.NoError(t, err)
	assert.Equal(t, "demo", key.Name)
	assert.True(t, key.HasPermission("inference"))
	assert.True(t, key.HasPermission("admin"))
}

func TestKeystoreNoDemoKeyWhenConfigured(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{
		Enabled: true,
		Keys: []types.APIKey{
			{Key: "configured-key", Name: "ops", Permissions: []string{"inference"}},
		},
	})

	_, err := ks.Authenticate(DemoKey)
	assert.Error(t, err)

	key, err := ks.Authenticate("configured-key")
	require.NoError(t, err)
	assert.Equal(t, "ops", key.Name)
	assert.True(t, key.HasPermission("inference"))
	assert.False(t, key.HasPermission("admin"))
}

func TestAuthenticateFailures(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{Enabled: true})

	_, err := ks.Authenticate("")
	assert.True(t, errors.Is(err, errdefs.ErrUnauthenticated))

	_, err = ks.Authenticate("wrong-key")
	assert.True(t, errors.Is(err, errdefs.ErrUnauthenticated))
}

func TestAuthenticateStampsLastUsed(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{Enabled: true})

	before := time.Now()
	key, err := ks.Authenticate(DemoKey)
	require.NoError(t, err)
	assert.False(t, key.LastUsed.Before(before))
}

func TestIssueAndRevoke(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{Enabled: true})

	issued, err := ks.Issue("ci", []string{"inference"})
	require.NoError(t, err)
	assert.Contains(t, issued.Key, "imk_")
	assert.Equal(t, "ci", issued.Name)

	authed, err := ks.Authenticate(issued.Key)
	require.NoError(t, err)
	assert.True(t, authed.HasPermission("inference"))
	assert.False(t, authed.HasPermission("models:write"))

	assert.True(t, ks.Revoke(issued.Key))
	assert.False(t, ks.Revoke(issued.Key))

	_, err = ks.Authenticate(issued.Key)
	assert.Error(t, err)
}

func TestListRedactsSecrets(t *testing.T) {
	ks := NewKeystore(config.AuthConfig{Enabled: true})
	issued, err := ks.Issue("ci", []string{"*"})
	require.NoError(t, err)

	for _, k := range ks.List() {
		assert.NotEqual(t, DemoKey, k.Key)
		assert.NotEqual(t, issued.Key, k.Key)
		assert.Contains(t, k.Key, "...")
	}
}

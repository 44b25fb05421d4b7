package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/types"
)

// DemoKey is seeded when authentication is enabled without any configured
// keys, so a fresh deployment is immediately usable.
const DemoKey = "demo-api-key-123"

// Keystore holds API keys and answers authentication checks.
type Keystore struct {
	mu   sync.RWMutex
	keys map[string]*types.APIKey
}

// NewKeystore seeds a keystore from config. With authentication enabled
// and no keys configured, the demo key is installed with full permissions.
func NewKeystore(cfg config.AuthConfig) *Keystore {
	ks := &Keystore{keys: make(map[string]*types.APIKey)}

	for i := range cfg.Keys {
		k := cfg.Keys[i]
		if k.CreatedAt.IsZero() {
			k.CreatedAt = time.Now()
		}
		ks.keys[k.Key] = &k
	}

	if cfg.Enabled && len(ks.keys) == 0 {
		ks.keys[DemoKey] = &types.APIKey{
			Key:         DemoKey,
			Name:        "demo",
			Permissions: []string{"*"},
			CreatedAt:   time.Now(),
		}
		log.WithComponent("gateway").Warn().Msg("no api keys configured, demo key seeded")
	}
	return ks
}

// Authenticate resolves a presented key and stamps its last use.
func (ks *Keystore) Authenticate(key string) (*types.APIKey, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: missing api key", errdefs.ErrUnauthenticated)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	k, ok := ks.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api key", errdefs.ErrUnauthenticated)
	}
	k.LastUsed = time.Now()
	cp := *k
	return &cp, nil
}

// Issue mints a new random key with the given name and permissions.
func (ks *Keystore) Issue(name string, permissions []string) (*types.APIKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &types.APIKey{
		Key:         "imk_" + hex.EncodeToString(raw),
		Name:        name,
		Permissions: permissions,
		CreatedAt:   time.Now(),
	}

	ks.mu.Lock()
	ks.keys[key.Key] = key
	ks.mu.Unlock()

	cp := *key
	return &cp, nil
}

// Revoke removes a key. Returns false when the key is unknown.
func (ks *Keystore) Revoke(key string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.keys[key]; !ok {
		return false
	}
	delete(ks.keys, key)
	return true
}

// List returns all keys with the secret redacted to a prefix.
func (ks *Keystore) List() []types.APIKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make([]types.APIKey, 0, len(ks.keys))
	for _, k := range ks.keys {
		cp := *k
		cp.Key = redactKey(cp.Key)
		out = append(out, cp)
	}
	return out
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..."
}

const contextKeyAPIKey = "apiKey"

// AuthMiddleware rejects requests without a valid key. The key is read
// from X-Api-Key or from a bearer Authorization header.
func AuthMiddleware(ks *Keystore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := ks.Authenticate(extractKey(c))
		if err != nil {
			api.Error(c, err)
			return
		}
		c.Set(contextKeyAPIKey, key)
		c.Next()
	}
}

// RequirePermission gates a route on the authenticated key's permissions.
// A no-op when no key is attached, which happens only with auth disabled.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(contextKeyAPIKey)
		if !ok {
			c.Next()
			return
		}
		key := v.(*types.APIKey)
		if !key.HasPermission(perm) {
			api.Error(c, fmt.Errorf("%w: key %q lacks %s", errdefs.ErrForbidden, key.Name, perm))
			return
		}
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if key := c.GetHeader("X-Api-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

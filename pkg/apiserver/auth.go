package apiserver

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/engine"
)

// KeyStore maps bearer tokens to the Requestor identity they authenticate
// as, loaded from the YAML config's auth_keys_file (spec.md §6: "no
// secrets are passed on the command line"). One line per key:
//
//	<token> component:<name>
//	<token> user:<name>
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]engine.Requestor
}

// LoadKeyStore reads a key file from disk.
func LoadKeyStore(path string) (*KeyStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("apiserver: opening auth keys file: %w", err)
	}
	defer f.Close()

	ks := &KeyStore{keys: make(map[string]engine.Requestor)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("apiserver: malformed auth key line %q", line)
		}
		token, identity := fields[0], fields[1]
		switch {
		case strings.HasPrefix(identity, "component:"):
			ks.keys[token] = engine.Requestor{Component: strings.TrimPrefix(identity, "component:")}
		case strings.HasPrefix(identity, "user:"):
			ks.keys[token] = engine.Requestor{User: strings.TrimPrefix(identity, "user:")}
		default:
			return nil, fmt.Errorf("apiserver: auth key %q has unknown identity kind", token)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("apiserver: reading auth keys file: %w", err)
	}
	return ks, nil
}

// Lookup resolves a bearer token to its Requestor identity.
func (ks *KeyStore) Lookup(token string) (engine.Requestor, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	r, ok := ks.keys[token]
	return r, ok
}

const requestorContextKey = "thorium.requestor"

// authMiddleware rejects requests without a recognized bearer token and
// attaches the resolved Requestor to the gin context for handlers to read
// back via requestorFrom.
func authMiddleware(ks *KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		by, ok := ks.Lookup(token)
		if !ok {
			c.AbortWithStatusJSON(apierr.Status(apierr.New(apierr.Unauthorized, "unknown token")), gin.H{"error": "unknown token"})
			return
		}
		c.Set(requestorContextKey, by)
		c.Next()
	}
}

func requestorFrom(c *gin.Context) engine.Requestor {
	v, ok := c.Get(requestorContextKey)
	if !ok {
		return engine.Requestor{}
	}
	by, _ := v.(engine.Requestor)
	return by
}

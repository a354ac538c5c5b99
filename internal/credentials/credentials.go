// Package credentials resolves archive passwords from a secret store.
//
// Passwords are never logged and never stored in configuration files that
// are committed; they come from a dotenv-style secrets file or from the
// process environment.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrUnavailable is returned when no password is known for a key.
var ErrUnavailable = errors.New("credential unavailable")

// Store looks up a secret by key.
type Store interface {
	Lookup(key string) (string, bool)
}

// Static is an in-memory Store.
type Static map[string]string

// Lookup implements Store.
func (s Static) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok && v != ""
}

// Environ snapshots the environment variables named prefix + KEY, keyed by
// KEY. Changes to the environment after the call are not seen.
func Environ(prefix string) Static {
	prefix = strings.ToUpper(prefix)
	out := make(Static)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(k)
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out
}

// Chain consults stores in order and returns the first hit.
type Chain []Store

// Lookup implements Store.
func (c Chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFile reads a dotenv secrets file. Keys are matched case-insensitively
// and may carry the prefix.
func LoadFile(path, prefix string) (Static, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	prefix = strings.ToUpper(prefix)
	out := make(Static, len(vals))
	for k, v := range vals {
		out[strings.TrimPrefix(strings.ToUpper(k), prefix)] = v
	}
	return out, nil
}

// Open builds the standard lookup chain: the secrets file (if path is set)
// followed by the environment. Both are read once, here.
func Open(path, prefix string) (Store, error) {
	var chain Chain
	if path != "" {
		file, err := LoadFile(path, prefix)
		if err != nil {
			return nil, err
		}
		chain = append(chain, upper{file})
	}
	chain = append(chain, upper{Environ(prefix)})
	return chain, nil
}

// Require returns the secret for key or an error wrapping ErrUnavailable.
func Require(s Store, key string) (string, error) {
	if s != nil {
		if v, ok := s.Lookup(key); ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w for %q", ErrUnavailable, key)
}

type upper struct{ Static }

func (u upper) Lookup(key string) (string, bool) { return u.Static.Lookup(envKey(key)) }

func envKey(key string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, key))
}

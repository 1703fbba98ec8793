package identity

import (
	"sync"
	"time"

	"github.com/AdalynJs/nucypher/pkg/hrac"
	"github.com/AdalynJs/nucypher/pkg/security/encryption/umbral"
)

// Stranger is a remote character known only by its public key.
type Stranger struct {
	PublicKey    []byte
	InterfaceKey []byte
	LearnedAt    time.Time
}

// Resolver learns and looks up remote characters. Implementations are
// scoped to a session and passed explicitly to the operations that need them.
type Resolver interface {
	Learn(pub []byte) (*Stranger, error)
	Lookup(interfaceKey []byte) (*Stranger, bool)
}

// Registry is an in-memory Resolver.
type Registry struct {
	mu    sync.RWMutex
	known map[string]*Stranger
	now   func() time.Time
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{known: make(map[string]*Stranger), now: time.Now}
}

// Learn validates pub and records it. Learning the same key twice returns
// the first record.
func (r *Registry) Learn(pub []byte) (*Stranger, error) {
	if _, err := umbral.PublicKeyFromBytes(pub); err != nil {
		return nil, err
	}
	key, err := hrac.InterfaceKey(pub)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.known[string(key)]; ok {
		return s, nil
	}
	s := &Stranger{
		PublicKey:    append([]byte(nil), pub...),
		InterfaceKey: key,
		LearnedAt:    r.now(),
	}
	r.known[string(key)] = s
	return s, nil
}

// Lookup finds a previously learned character by interface key.
func (r *Registry) Lookup(interfaceKey []byte) (*Stranger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.known[string(interfaceKey)]
	return s, ok
}

// Len returns the number of known characters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}

package discovery

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// InMemoryStore keeps nodes and treasure maps in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	nodes   map[string]models.NodeInfo
	maps    map[string][]byte
	nodeTTL time.Duration
	now     func() time.Time
}

var _ Backend = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store. Nodes not seen within nodeTTL are
// hidden from listings; zero keeps them forever.
func NewInMemoryStore(nodeTTL time.Duration) *InMemoryStore {
	return &InMemoryStore{
		nodes:   make(map[string]models.NodeInfo),
		maps:    make(map[string][]byte),
		nodeTTL: nodeTTL,
		now:     time.Now,
	}
}

// Register adds or refreshes a node.
func (s *InMemoryStore) Register(ctx context.Context, node models.NodeInfo) error {
	if err := validateNode(node); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[string(node.InterfaceKey)] = stamp(node, s.now())
	return nil
}

// Nodes lists live nodes ordered by interface key.
func (s *InMemoryStore) Nodes(ctx context.Context) ([]models.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]models.NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		if s.live(n) {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i].InterfaceKey, nodes[j].InterfaceKey) < 0
	})
	return nodes, nil
}

// Node returns a single live node.
func (s *InMemoryStore) Node(ctx context.Context, interfaceKey []byte) (models.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[string(interfaceKey)]
	if !ok || !s.live(n) {
		return models.NodeInfo{}, models.ErrNodeNotFound
	}
	return n, nil
}

// Remove forgets a node.
func (s *InMemoryStore) Remove(ctx context.Context, interfaceKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, string(interfaceKey))
	return nil
}

// Put stores a treasure map record, replacing any previous value.
func (s *InMemoryStore) Put(ctx context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[string(key)] = append([]byte(nil), value...)
	return nil
}

// Get returns a stored treasure map record.
func (s *InMemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.maps[string(key)]
	if !ok {
		return nil, models.ErrTreasureMapNotFound
	}
	return append([]byte(nil), v...), nil
}

// Close does nothing
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) live(n models.NodeInfo) bool {
	return s.nodeTTL <= 0 || s.now().Sub(n.LastSeen) <= s.nodeTTL
}

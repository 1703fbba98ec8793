// Package discovery provides the directory proxies announce themselves in
// and the keyed store treasure maps are published to.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/pkg/models"
)

// NodeRegistry tracks known proxy nodes.
type NodeRegistry interface {
	Register(ctx context.Context, node models.NodeInfo) error
	Nodes(ctx context.Context) ([]models.NodeInfo, error)
	Node(ctx context.Context, interfaceKey []byte) (models.NodeInfo, error)
	Remove(ctx context.Context, interfaceKey []byte) error
}

// MapStore is a keyed store for published treasure maps.
type MapStore interface {
	Put(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Backend is a directory holding both nodes and treasure maps.
type Backend interface {
	NodeRegistry
	MapStore
	Close() error
}

// Validator inspects a record before it is stored.
type Validator func(key, value []byte) error

// ValidatingStore rejects records its validator refuses.
type ValidatingStore struct {
	MapStore
	validate Validator
}

// WithValidator wraps store so every Put runs validate first.
func WithValidator(store MapStore, validate Validator) *ValidatingStore {
	return &ValidatingStore{MapStore: store, validate: validate}
}

// Put validates and stores the record.
func (s *ValidatingStore) Put(ctx context.Context, key, value []byte) error {
	if s.validate != nil {
		if err := s.validate(key, value); err != nil {
			return err
		}
	}
	return s.MapStore.Put(ctx, key, value)
}

// Open creates the backend named in cfg.
func Open(cfg config.DiscoveryConfig) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewInMemoryStore(cfg.NodeTTL), nil
	case "redis":
		return NewRedisStore(RedisStoreConfig{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			MapTTL:   cfg.TreasureMapTTL,
			NodeTTL:  cfg.NodeTTL,

			ConnectAttempts: cfg.Redis.ConnectAttempts,
			ConnectBackoff:  cfg.Redis.ConnectBackoff,
		})
	default:
		return nil, fmt.Errorf("unsupported discovery type: %s", cfg.Type)
	}
}

func validateNode(node models.NodeInfo) error {
	if len(node.InterfaceKey) == 0 {
		return fmt.Errorf("%w: node has no interface key", models.ErrMalformedPayload)
	}
	if node.Endpoint == "" {
		return fmt.Errorf("%w: node %s has no endpoint", models.ErrMalformedPayload, node.ID())
	}
	return nil
}

func stamp(node models.NodeInfo, now time.Time) models.NodeInfo {
	if node.LastSeen.IsZero() {
		node.LastSeen = now
	}
	return node
}

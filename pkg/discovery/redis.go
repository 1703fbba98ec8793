package discovery

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/AdalynJs/nucypher/pkg/models"
)

// RedisStore provides a Redis-based shared directory
type RedisStore struct {
	client  *redis.Client
	prefix  string
	mapTTL  time.Duration
	nodeTTL time.Duration
}

var _ Backend = (*RedisStore)(nil)

// RedisStoreConfig holds configuration for the Redis directory
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	MapTTL   time.Duration
	NodeTTL  time.Duration

	// ConnectAttempts bounds the pings tried before giving up. Zero means 3.
	ConnectAttempts uint
	ConnectBackoff  time.Duration
}

// NewRedisStore connects to Redis and verifies the connection, retrying the
// ping with exponential backoff while Redis comes up.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ping(ctx, client, config); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", models.ErrStorageUnavailable, err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "nkms:"
	}

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		mapTTL:  config.MapTTL,
		nodeTTL: config.NodeTTL,
	}, nil
}

func ping(ctx context.Context, client *redis.Client, config RedisStoreConfig) error {
	attempts := config.ConnectAttempts
	if attempts == 0 {
		attempts = 3
	}
	b := backoff.NewExponentialBackOff()
	if config.ConnectBackoff > 0 {
		b.InitialInterval = config.ConnectBackoff
	}
	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	return err
}

func (s *RedisStore) nodeKey(id []byte) string {
	return s.prefix + "node:" + hex.EncodeToString(id)
}

func (s *RedisStore) mapKey(key []byte) string {
	return s.prefix + "map:" + hex.EncodeToString(key)
}

// Register stores the node, expiring it after the node TTL
func (s *RedisStore) Register(ctx context.Context, node models.NodeInfo) error {
	if err := validateNode(node); err != nil {
		return err
	}

	data, err := json.Marshal(stamp(node, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	if err := s.client.Set(ctx, s.nodeKey(node.InterfaceKey), data, s.nodeTTL).Err(); err != nil {
		return fmt.Errorf("%w: failed to register node: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Nodes lists every registered node ordered by interface key
func (s *RedisStore) Nodes(ctx context.Context) ([]models.NodeInfo, error) {
	iter := s.client.Scan(ctx, 0, s.prefix+"node:*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan nodes: %v", models.ErrStorageUnavailable, err)
	}
	if len(keys) == 0 {
		return []models.NodeInfo{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load nodes: %v", models.ErrStorageUnavailable, err)
	}

	nodes := make([]models.NodeInfo, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var n models.NodeInfo
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i].InterfaceKey, nodes[j].InterfaceKey) < 0
	})
	return nodes, nil
}

// Node loads a single node
func (s *RedisStore) Node(ctx context.Context, interfaceKey []byte) (models.NodeInfo, error) {
	data, err := s.client.Get(ctx, s.nodeKey(interfaceKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.NodeInfo{}, models.ErrNodeNotFound
		}
		return models.NodeInfo{}, fmt.Errorf("%w: failed to load node: %v", models.ErrStorageUnavailable, err)
	}

	var n models.NodeInfo
	if err := json.Unmarshal(data, &n); err != nil {
		// Corrupted entry, drop it
		s.client.Del(ctx, s.nodeKey(interfaceKey))
		return models.NodeInfo{}, models.ErrNodeNotFound
	}
	return n, nil
}

// Remove deletes a node
func (s *RedisStore) Remove(ctx context.Context, interfaceKey []byte) error {
	if err := s.client.Del(ctx, s.nodeKey(interfaceKey)).Err(); err != nil {
		return fmt.Errorf("%w: failed to remove node: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Put stores a treasure map record with the configured TTL
func (s *RedisStore) Put(ctx context.Context, key, value []byte) error {
	if err := s.client.Set(ctx, s.mapKey(key), value, s.mapTTL).Err(); err != nil {
		return fmt.Errorf("%w: failed to store treasure map: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Get loads a treasure map record
func (s *RedisStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	data, err := s.client.Get(ctx, s.mapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrTreasureMapNotFound
		}
		return nil, fmt.Errorf("%w: failed to load treasure map: %v", models.ErrStorageUnavailable, err)
	}
	return data, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

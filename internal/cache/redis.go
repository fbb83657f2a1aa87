// Package cache is the optional key-value cache adapter: the low-latency
// projection of documents, held in Redis as JSON values with a TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kalambet/quadsync/internal/store"
)

var (
	_ store.Adapter   = (*Store)(nil)
	_ store.Retriever = (*Store)(nil)
)

// defaultTTL bounds how long a cached document outlives its last write.
const defaultTTL = time.Hour

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL for cached documents; <= 0 uses the one-hour default.
	TTL time.Duration
}

// Store caches document JSON in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}, nil
}

// NewWithClient wraps an existing client (tests).
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// DocumentKey is the Redis key holding a document's cached JSON.
func DocumentKey(id string) string {
	return "doc:" + id
}

// StoreDocument caches the document JSON under its key with the TTL.
func (s *Store) StoreDocument(ctx context.Context, doc *store.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}
	if err := s.client.Set(ctx, DocumentKey(doc.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("caching document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument evicts the document. Absent keys are not an error.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, DocumentKey(id)).Err(); err != nil {
		return fmt.Errorf("evicting document %s: %w", id, err)
	}
	return nil
}

// DocumentExists reports whether the document is currently cached.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, DocumentKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("checking document %s: %w", id, err)
	}
	return n > 0, nil
}

// RetrieveDocument returns the cached document or store.ErrNotFound on a
// miss (including TTL expiry).
func (s *Store) RetrieveDocument(ctx context.Context, id string) (*store.Document, error) {
	data, err := s.client.Get(ctx, DocumentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached document %s: %w", id, err)
	}
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding cached document %s: %w", id, err)
	}
	return &doc, nil
}

// Health reports adapter status via a ping.
func (s *Store) Health(ctx context.Context) store.Health {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Unhealthy(err)
	}
	return store.Healthy("redis reachable")
}

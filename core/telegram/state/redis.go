package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
)

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	TTL       time.Duration
}

type redisStore struct {
	*keyedMutex
	client    rd.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisStore keeps JSON-encoded sessions under <namespace>:session:<user>.
// Locking stays in-process, so one bot instance should own a namespace.
func NewRedisStore(opts RedisOptions) Store {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    []string{opts.Addr},
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisStore(client, opts.Namespace, opts.TTL)
}

func newRedisStore(client rd.UniversalClient, namespace string, ttl time.Duration) *redisStore {
	return &redisStore{
		keyedMutex: newKeyedMutex(),
		client:     client,
		namespace:  namespace,
		ttl:        ttl,
	}
}

func (r *redisStore) key(userID int64) string {
	return fmt.Sprintf("%s:session:%s", r.namespace, strconv.FormatInt(userID, 10))
}

func (r *redisStore) Get(ctx context.Context, userID int64) (*Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session: %w", err)
	}
	s, err := decodeSession(raw)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *redisStore) Put(ctx context.Context, s *Session) error {
	stamp(s, time.Now())
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	return nil
}

func (r *redisStore) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *redisStore) Close() error {
	return r.client.Close()
}

func decodeSession(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]Value)
	}
	return &s, nil
}

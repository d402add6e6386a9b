package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each request as a JSON value plus a sorted set of
// pending ids. Transitions run in a WATCH transaction on the request key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentd:approval:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) pendingKey() string { return s.prefix + "pending" }

func (s *RedisStore) Create(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return agenterr.StorageFailed("encode approval", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(req.ID), data, 0)
		pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(req.CreatedAt.UnixNano()), Member: req.ID})
		return nil
	})
	if err != nil {
		return agenterr.StorageFailed("create approval", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Request, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, agenterr.ApprovalNotFound(id)
	}
	if err != nil {
		return nil, agenterr.StorageFailed("get approval", err)
	}
	return decodeRequest(data)
}

func (s *RedisStore) Transition(ctx context.Context, id string, to Status, at time.Time) (*Request, error) {
	key := s.key(id)
	var resolved *Request

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return agenterr.ApprovalNotFound(id)
		}
		if err != nil {
			return err
		}
		req, err := decodeRequest(data)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return agenterr.ApprovalAlreadyResolved(id)
		}

		req.Status = to
		req.ResolvedAt = at
		encoded, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZRem(ctx, s.pendingKey(), id)
			return nil
		})
		if err != nil {
			return err
		}
		resolved = req
		return nil
	}, key)

	switch {
	case err == nil:
		return resolved, nil
	case errors.Is(err, redis.TxFailedErr):
		// Someone else changed the key between WATCH and EXEC.
		return nil, agenterr.ApprovalAlreadyResolved(id)
	case agenterr.GetCategory(err) == agenterr.CategoryApproval:
		return nil, err
	default:
		return nil, agenterr.StorageFailed("resolve approval", err)
	}
}

func (s *RedisStore) Pending(ctx context.Context, projectID string) ([]*Request, error) {
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, agenterr.StorageFailed("list pending approvals", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, agenterr.StorageFailed("list pending approvals", err)
	}

	var out []*Request
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decodeRequest([]byte(raw))
		if err != nil {
			return nil, agenterr.StorageFailed("decode approval", err)
		}
		if req.Status != StatusPending || (projectID != "" && req.ProjectID != projectID) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode approval: %w", err)
	}
	return &req, nil
}

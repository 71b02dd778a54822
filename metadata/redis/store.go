package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metrics"
)

// maxModifyAttempts bounds the retries of a Modify whose watched key changed
const maxModifyAttempts = 100

type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisStore(addr, password string, db int, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = "bundlefs:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis metadata store: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	defer observe("get", time.Now())

	raw, err := s.client.Get(ctx, s.metadataKey(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var md metadata.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &md, nil
}

func (s *RedisStore) Create(ctx context.Context, md *metadata.Metadata) error {
	defer observe("create", time.Now())

	now := time.Now().UTC()
	if md.MTime.IsZero() {
		md.MTime = now
	}
	md.CreatedAt = now
	md.UpdatedAt = now

	id, err := s.client.Incr(ctx, s.prefix+"seq:fileid").Result()
	if err != nil {
		return fmt.Errorf("failed to allocate metadata id: %w", err)
	}
	md.ID = id

	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	stored, err := s.client.SetNX(ctx, s.metadataKey(md.Path), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	if !stored {
		return metadata.ErrAlreadyExists
	}

	if md.Path != "/" {
		if err := s.client.SAdd(ctx, s.childrenKey(metadata.ParentPath(md.Path)), md.Path).Err(); err != nil {
			return fmt.Errorf("failed to index child metadata: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, md *metadata.Metadata) error {
	defer observe("update", time.Now())

	md.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// SET XX only overwrites an existing key
	updated, err := s.client.SetXX(ctx, s.metadataKey(md.Path), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if !updated {
		return metadata.ErrNotFound
	}
	return nil
}

// Modify runs fn under WATCH so the write is dropped and retried when
// another client changed the entry in between
func (s *RedisStore) Modify(ctx context.Context, path string, fn func(md *metadata.Metadata)) (*metadata.Metadata, error) {
	defer observe("modify", time.Now())

	key := s.metadataKey(path)
	var out *metadata.Metadata
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return metadata.ErrNotFound
			}
			return err
		}

		var md metadata.Metadata
		if err := json.Unmarshal(raw, &md); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
		fn(&md)
		md.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(&md)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			out = &md
		}
		return err
	}

	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to modify metadata: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("failed to modify metadata for %s: too many concurrent writers", path)
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())

	removed, err := s.client.Del(ctx, s.metadataKey(path)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	if removed == 0 {
		return metadata.ErrNotFound
	}
	if err := s.client.SRem(ctx, s.childrenKey(metadata.ParentPath(path)), path).Err(); err != nil {
		return fmt.Errorf("failed to remove child index: %w", err)
	}
	_ = s.client.Del(ctx, s.childrenKey(path)).Err()
	return nil
}

func (s *RedisStore) ListChildren(ctx context.Context, parentPath string) ([]*metadata.Metadata, error) {
	defer observe("list_children", time.Now())

	paths, err := s.client.SMembers(ctx, s.childrenKey(parentPath)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list child paths: %w", err)
	}

	children := make([]*metadata.Metadata, 0, len(paths))
	for _, path := range paths {
		md, getErr := s.Get(ctx, path)
		if getErr != nil {
			if errors.Is(getErr, metadata.ErrNotFound) {
				continue
			}
			return nil, getErr
		}
		children = append(children, md)
	}

	sort.Slice(children, func(i, j int) bool {
		if children[i].Type != children[j].Type {
			return children[i].Type < children[j].Type
		}
		return strings.ToLower(children[i].Name) < strings.ToLower(children[j].Name)
	})

	return children, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) metadataKey(path string) string {
	return s.prefix + "md:" + metadata.NormalizePath(path)
}

func (s *RedisStore) childrenKey(path string) string {
	return s.prefix + "children:" + metadata.NormalizePath(path)
}

func observe(operation string, start time.Time) {
	metrics.MetadataDBQueriesTotal.WithLabelValues("redis", operation).Inc()
	metrics.MetadataDBQueryDuration.WithLabelValues("redis", operation).Observe(time.Since(start).Seconds())
}

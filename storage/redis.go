package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as a JSON value under <collection>:<id> and
// maintains a set of ids per collection so FindWhere can enumerate without
// scanning the keyspace.
type RedisStore struct {
	client     *redis.Client
	collection string

	// serializes read-modify-write updates; single Redis commands are atomic
	// on their own but UpdateByID spans a Get and a Set.
	updateMu sync.Mutex
}

// OpenRedisStore connects using a redis URL and returns a store for the
// given collection.
func OpenRedisStore(url, collection string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), collection), nil
}

func NewRedisStore(client *redis.Client, collection string) *RedisStore {
	return &RedisStore{client: client, collection: collection}
}

func (r *RedisStore) key(id string) string {
	return r.collection + ":" + id
}

func (r *RedisStore) indexKey() string {
	return r.collection + ":ids"
}

func (r *RedisStore) Insert(ctx context.Context, doc Document) (string, error) {
	id := uuid.NewString()
	stored := cloneDoc(doc)
	stored["id"] = id
	data, err := sonic.Marshal(stored)
	if err != nil {
		return "", err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(id), data, 0)
		pipe.SAdd(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisStore) FindByID(ctx context.Context, id string) (Document, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *RedisStore) FindWhere(ctx context.Context, filter map[string]string) ([]Document, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := []Document{}
	if len(ids) == 0 {
		return out, nil
	}
	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, r.key(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			// id in the index but the value is gone, skip
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc Document
		if err := sonic.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *RedisStore) UpdateByID(ctx context.Context, id string, partial Document) (Document, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	doc, err := r.FindByID(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	data, err := sonic.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *RedisStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

// Package redisstore stores books in Redis, one JSON value per book plus an id index set.
//
// Read-modify-write operations use WATCH/MULTI: the transaction is discarded
// when another client touched the watched key, and the operation is retried.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/deKupini/the-library/internal/domain"
	"github.com/deKupini/the-library/internal/repository"
)

const defaultMaxRetries = 10

type Config struct {
	KeyPrefix  string
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "library:",
		MaxRetries: defaultMaxRetries,
	}
}

type BookRepository struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

func NewBookRepository(client *redis.Client, config Config) *BookRepository {
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	return &BookRepository{
		client:     client,
		prefix:     config.KeyPrefix,
		maxRetries: config.MaxRetries,
	}
}

func (r *BookRepository) bookKey(id string) string {
	return r.prefix + "book:" + id
}

func (r *BookRepository) indexKey() string {
	return r.prefix + "books"
}

func (r *BookRepository) Create(ctx context.Context, book *domain.Book) error {
	key := r.bookKey(book.ID)
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("marshal book: %w", err)
	}

	return r.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.indexKey(), book.ID)
			return nil
		})
		return err
	})
}

func (r *BookRepository) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	return r.load(ctx, r.client, id)
}

func (r *BookRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.bookKey(id)).Result()
	return n > 0, err
}

func (r *BookRepository) List(ctx context.Context) ([]*domain.Book, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	books := make([]*domain.Book, 0, len(ids))
	if len(ids) == 0 {
		return books, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.bookKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between SMEMBERS and MGET
			continue
		}
		var book domain.Book
		if err := json.Unmarshal([]byte(s), &book); err != nil {
			return nil, fmt.Errorf("decode book %s: %w", ids[i], err)
		}
		books = append(books, &book)
	}
	return books, nil
}

func (r *BookRepository) Update(ctx context.Context, id string, fn repository.MutateFunc) (*domain.Book, error) {
	key := r.bookKey(id)
	var result *domain.Book

	err := r.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}

		updated, err := fn(*current)
		if err != nil {
			result = current
			return err
		}
		updated.ID = id

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = &updated
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return result, err
}

func (r *BookRepository) Delete(ctx context.Context, id string, guard repository.GuardFunc) error {
	key := r.bookKey(id)

	return r.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(*current); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.indexKey(), id)
			return nil
		})
		return err
	})
}

// watch runs fn under WATCH key, retrying when the optimistic transaction
// loses a race. Retries exhausted yield domain.ErrConflict.
func (r *BookRepository) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return domain.ErrConflict
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *BookRepository) load(ctx context.Context, c getter, id string) (*domain.Book, error) {
	data, err := c.Get(ctx, r.bookKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var book domain.Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", id, err)
	}
	return &book, nil
}

// Ping lets the readiness check probe the store.
func (r *BookRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Package redis provides a bookmark and trigger index on Redis, for clusters that keep the
// main store elsewhere.
//
// Records are JSON strings under <prefix>:bookmark:<id> and <prefix>:trigger:<id>. Sets keyed
// by hash, activity type and definition id hold the record ids.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the index.
const DefaultPrefix = "elsa"

// Option configures the Index.
type Option func(*Index)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(i *Index) { i.prefix = prefix }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// Index implements persistence.IndexStore.
type Index struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
	owned  bool

	bookmarks *BookmarkRepository
	triggers  *TriggerRepository
}

// New wraps a client owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Index {
	i := &Index{client: client, prefix: DefaultPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(i)
	}

	i.logger = i.logger.With("module", "redis_index")
	i.bookmarks = &BookmarkRepository{index: i}
	i.triggers = &TriggerRepository{index: i}

	return i
}

// NewFromURL connects to a redis:// URL and pings the server. Close releases the connection.
func NewFromURL(ctx context.Context, url string, opts ...Option) (*Index, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	i := New(client, opts...)
	i.owned = true

	return i, nil
}

func (i *Index) BookmarkRepository() persistence.BookmarkRepository {
	return i.bookmarks
}

func (i *Index) TriggerRepository() persistence.TriggerRepository {
	return i.triggers
}

func (i *Index) HealthCheck(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

func (i *Index) Close(_ context.Context) error {
	if !i.owned {
		return nil
	}

	return i.client.Close()
}

func (i *Index) key(parts ...string) string {
	key := i.prefix
	for _, p := range parts {
		key += ":" + p
	}

	return key
}

// load fetches the JSON records stored under keys, skipping ids whose record vanished.
func load[T any](ctx context.Context, i *Index, op, entity string, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return []*T{}, nil
	}

	values, err := i.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, persistence.NewStoreError(op, entity, "", err)
	}

	out := make([]*T, 0, len(values))

	for n, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}

		var v T

		err = json.Unmarshal([]byte(s), &v)
		if err != nil {
			return nil, persistence.NewStoreError(op, entity, keys[n], fmt.Errorf("%w: %w", persistence.ErrCorruptRecord, err))
		}

		out = append(out, &v)
	}

	return out, nil
}

func (i *Index) members(ctx context.Context, op, entity, set, kind string) ([]string, error) {
	ids, err := i.client.SMembers(ctx, set).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, persistence.NewStoreError(op, entity, set, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, i.key(kind, id))
	}

	return keys, nil
}

// BookmarkRepository is the Redis bookmark index.
type BookmarkRepository struct {
	index *Index
}

func (r *BookmarkRepository) hashSet(hash string) string {
	return r.index.key("bookmarks", "hash", hash)
}

func (r *BookmarkRepository) FindByHash(ctx context.Context, hash string) ([]*models.StoredBookmark, error) {
	keys, err := r.index.members(ctx, "FindByHash", "bookmark", r.hashSet(hash), "bookmark")
	if err != nil {
		return nil, err
	}

	found, err := load[models.StoredBookmark](ctx, r.index, "FindByHash", "bookmark", keys)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(found, func(a, b int) bool {
		if found[a].CreatedAt.Equal(found[b].CreatedAt) {
			return found[a].BookmarkID < found[b].BookmarkID
		}

		return found[a].CreatedAt.Before(found[b].CreatedAt)
	})

	return found, nil
}

func (r *BookmarkRepository) Save(ctx context.Context, bookmarks []*models.StoredBookmark) error {
	pipe := r.index.client.TxPipeline()

	for _, b := range bookmarks {
		if b.BookmarkID == "" {
			return persistence.NewStoreError("Save", "bookmark", b.Hash, persistence.ErrMissingID)
		}

		data, err := json.Marshal(b)
		if err != nil {
			return persistence.NewStoreError("Save", "bookmark", b.BookmarkID, err)
		}

		pipe.Set(ctx, r.index.key("bookmark", b.BookmarkID), data, 0)
		pipe.SAdd(ctx, r.hashSet(b.Hash), b.BookmarkID)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("Save", "bookmark", "", err)
	}

	return nil
}

func (r *BookmarkRepository) RemoveByInstance(ctx context.Context, hash, instanceID string, bookmarkIDs []string) error {
	found, err := r.FindByHash(ctx, hash)
	if err != nil {
		return err
	}

	pipe := r.index.client.TxPipeline()
	removed := 0

	for _, b := range found {
		if b.WorkflowInstanceID != instanceID {
			continue
		}

		if len(bookmarkIDs) > 0 && !slices.Contains(bookmarkIDs, b.BookmarkID) {
			continue
		}

		pipe.Del(ctx, r.index.key("bookmark", b.BookmarkID))
		pipe.SRem(ctx, r.hashSet(hash), b.BookmarkID)

		removed++
	}

	if removed == 0 {
		return nil
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("RemoveByInstance", "bookmark", instanceID, err)
	}

	return nil
}

// TriggerRepository is the Redis trigger index.
type TriggerRepository struct {
	index *Index
}

func (r *TriggerRepository) find(ctx context.Context, op, set string) ([]*models.Trigger, error) {
	keys, err := r.index.members(ctx, op, "trigger", set, "trigger")
	if err != nil {
		return nil, err
	}

	found, err := load[models.Trigger](ctx, r.index, op, "trigger", keys)
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(a, b int) bool { return found[a].ID < found[b].ID })

	return found, nil
}

func (r *TriggerRepository) FindByHash(ctx context.Context, hash string) ([]*models.Trigger, error) {
	return r.find(ctx, "FindByHash", r.index.key("triggers", "hash", hash))
}

func (r *TriggerRepository) FindByActivityType(ctx context.Context, activityTypeName string) ([]*models.Trigger, error) {
	return r.find(ctx, "FindByActivityType", r.index.key("triggers", "type", activityTypeName))
}

func (r *TriggerRepository) ReplaceByDefinitionID(ctx context.Context, definitionID string, triggers []*models.Trigger) error {
	existing, err := r.find(ctx, "ReplaceByDefinitionID", r.index.key("triggers", "definition", definitionID))
	if err != nil {
		return err
	}

	pipe := r.index.client.TxPipeline()
	r.unlink(ctx, pipe, definitionID, existing)

	for _, t := range triggers {
		if t.ID == "" {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, persistence.ErrMissingID)
		}

		data, err := json.Marshal(t)
		if err != nil {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", t.ID, err)
		}

		pipe.Set(ctx, r.index.key("trigger", t.ID), data, 0)
		pipe.SAdd(ctx, r.index.key("triggers", "hash", t.Hash), t.ID)
		pipe.SAdd(ctx, r.index.key("triggers", "type", t.ActivityTypeName), t.ID)
		pipe.SAdd(ctx, r.index.key("triggers", "definition", definitionID), t.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, err)
	}

	return nil
}

func (r *TriggerRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) error {
	existing, err := r.find(ctx, "DeleteByDefinitionID", r.index.key("triggers", "definition", definitionID))
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		return nil
	}

	pipe := r.index.client.TxPipeline()
	r.unlink(ctx, pipe, definitionID, existing)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewStoreError("DeleteByDefinitionID", "trigger", definitionID, err)
	}

	return nil
}

func (r *TriggerRepository) unlink(ctx context.Context, pipe redis.Pipeliner, definitionID string, triggers []*models.Trigger) {
	for _, t := range triggers {
		pipe.Del(ctx, r.index.key("trigger", t.ID))
		pipe.SRem(ctx, r.index.key("triggers", "hash", t.Hash), t.ID)
		pipe.SRem(ctx, r.index.key("triggers", "type", t.ActivityTypeName), t.ID)
		pipe.SRem(ctx, r.index.key("triggers", "definition", definitionID), t.ID)
	}
}

var _ persistence.IndexStore = (*Index)(nil)

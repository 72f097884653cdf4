package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "pitcrew:"

// farFuture scores index members of records that never expire (2100-01-01).
const farFuture = 4102444800

// Archive implements ports.WorkflowArchive using Redis.
// Workflows are stored as JSON with an optional TTL, and indexed in a ZSET
// scored by expiry so List can prune lazily.
type Archive struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Archive.
type Option func(*Archive)

// WithTTL sets the expiration for archived workflows. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(a *Archive) {
		a.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(a *Archive) {
		a.prefix = prefix
	}
}

// NewClient builds a go-redis client for the given server.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// NewArchive creates an archive on an existing client.
func NewArchive(client *backend.Client, opts ...Option) *Archive {
	a := &Archive{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archive) key(workflowID string) string {
	return a.prefix + "workflow:" + workflowID
}

func (a *Archive) indexKey() string {
	return a.prefix + "workflow:index"
}

// Save persists the workflow.
func (a *Archive) Save(ctx context.Context, workflow *domain.Workflow) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	score := float64(time.Now().Add(a.ttl).Unix())
	if a.ttl == 0 {
		score = farFuture
	}

	pipe := a.client.Pipeline()
	pipe.Set(ctx, a.key(workflow.ID), data, a.ttl)
	pipe.ZAdd(ctx, a.indexKey(), backend.Z{
		Score:  score,
		Member: workflow.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves an archived workflow.
func (a *Archive) Load(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	val, err := a.client.Get(ctx, a.key(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(val, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// Delete removes the workflow and its index entry.
func (a *Archive) Delete(ctx context.Context, workflowID string) error {
	pipe := a.client.Pipeline()
	pipe.Del(ctx, a.key(workflowID))
	pipe.ZRem(ctx, a.indexKey(), workflowID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns archived IDs, dropping index entries whose TTL elapsed.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := a.client.ZRemRangeByScore(ctx, a.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired workflows: %w", err)
	}

	ids, err := a.client.ZRange(ctx, a.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (a *Archive) Close() error {
	return a.client.Close()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/delahq/dela/config"
	"github.com/delahq/dela/types"
)

// RedisStore is a Redis-backed implementation of StepLog, TemplateStore,
// and RunArchive. Suitable for distributed deployments. Objects are stored
// as JSON values with list/set indexes per user and per template.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "dela:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "store_redis")),
	}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) stepLogKey(user string) string { return s.keyPrefix + "steps:" + user }
func (s *RedisStore) templateKey(id string) string  { return s.keyPrefix + "tpl:" + id }
func (s *RedisStore) userTemplatesKey(user string) string {
	return s.keyPrefix + "user_tpls:" + user
}
func (s *RedisStore) instancesKey(templateID string) string {
	return s.keyPrefix + "instances:" + templateID
}
func (s *RedisStore) policyKey(templateID string) string {
	return s.keyPrefix + "policy:" + templateID
}
func (s *RedisStore) runKey(id string) string { return s.keyPrefix + "run:" + id }
func (s *RedisStore) runIndexKey(user, templateID string) string {
	return s.keyPrefix + "runs:" + user + "|" + templateID
}

// Append records one observed step at the tail of the user's log.
func (s *RedisStore) Append(ctx context.Context, step types.ObservedStep) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	return s.client.RPush(ctx, s.stepLogKey(step.User), data).Err()
}

// Steps returns the most recent steps for a user, oldest first.
func (s *RedisStore) Steps(ctx context.Context, user string, limit int) ([]types.ObservedStep, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.stepLogKey(user), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read step log: %w", err)
	}
	out := make([]types.ObservedStep, 0, len(raw))
	for _, item := range raw {
		var step types.ObservedStep
		if err := json.Unmarshal([]byte(item), &step); err != nil {
			return nil, fmt.Errorf("unmarshal step: %w", err)
		}
		out = append(out, step)
	}
	return out, nil
}

// SaveTemplate inserts or replaces a template by ID.
func (s *RedisStore) SaveTemplate(ctx context.Context, tpl *types.WorkflowTemplate) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.templateKey(tpl.ID), data, 0)
	pipe.SAdd(ctx, s.userTemplatesKey(tpl.User), tpl.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Template returns a template by ID.
func (s *RedisStore) Template(ctx context.Context, id string) (*types.WorkflowTemplate, error) {
	data, err := s.client.Get(ctx, s.templateKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var tpl types.WorkflowTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &tpl, nil
}

// TemplatesByUser returns a user's templates, oldest created first.
func (s *RedisStore) TemplatesByUser(ctx context.Context, user string) ([]*types.WorkflowTemplate, error) {
	ids, err := s.client.SMembers(ctx, s.userTemplatesKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("read user templates: %w", err)
	}
	out := make([]*types.WorkflowTemplate, 0, len(ids))
	for _, id := range ids {
		tpl, err := s.Template(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	sortTemplatesByCreation(out)
	return out, nil
}

// SaveInstance persists a closed instance under its template.
func (s *RedisStore) SaveInstance(ctx context.Context, in *types.WorkflowInstance) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	return s.client.RPush(ctx, s.instancesKey(in.TemplateID), data).Err()
}

// InstancesByTemplate returns the instances linked to a template, oldest first.
func (s *RedisStore) InstancesByTemplate(ctx context.Context, templateID string) ([]*types.WorkflowInstance, error) {
	raw, err := s.client.LRange(ctx, s.instancesKey(templateID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}
	out := make([]*types.WorkflowInstance, 0, len(raw))
	for _, item := range raw {
		var in types.WorkflowInstance
		if err := json.Unmarshal([]byte(item), &in); err != nil {
			return nil, fmt.Errorf("unmarshal instance: %w", err)
		}
		out = append(out, &in)
	}
	sortInstancesByClose(out)
	return out, nil
}

// SavePolicy inserts or replaces a policy by template ID.
func (s *RedisStore) SavePolicy(ctx context.Context, p *types.AutomationPolicy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return s.client.Set(ctx, s.policyKey(p.TemplateID), data, 0).Err()
}

// Policy returns the policy for a template.
func (s *RedisStore) Policy(ctx context.Context, templateID string) (*types.AutomationPolicy, error) {
	data, err := s.client.Get(ctx, s.policyKey(templateID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p types.AutomationPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	return &p, nil
}

// ArchiveRun stores a closed run and indexes it newest-first.
func (s *RedisStore) ArchiveRun(ctx context.Context, run *types.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, 0)
	pipe.LPush(ctx, s.runIndexKey(run.User, run.TemplateID), run.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Run returns an archived run by ID.
func (s *RedisStore) Run(ctx context.Context, id string) (*types.WorkflowRun, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	var run types.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// RecentRuns returns up to n archived runs, most recent first.
func (s *RedisStore) RecentRuns(ctx context.Context, user, templateID string, n int) ([]*types.WorkflowRun, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	ids, err := s.client.LRange(ctx, s.runIndexKey(user, templateID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	out := make([]*types.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.Run(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

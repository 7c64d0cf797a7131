// Package store persists optimization decisions. With NATS wired it keeps
// decisions in a JetStream key-value bucket so they survive restarts and are
// visible to other instances; without it, decisions live in memory.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/natsclient"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Name is the service name the store registers under
const Name = "store"

// Config tunes the decision store
type Config struct {
	Bucket  string // KV bucket name
	History uint8  // revisions retained per key
}

// Store is the decision persistence service. Keys are workload names; each
// key holds the latest decision for that workload.
type Store struct {
	*service.BaseService

	cfg Config

	mu     sync.RWMutex
	kv     *natsclient.KVStore
	memory map[string]types.Decision
}

// New creates a store service
func New(cfg Config, opts ...service.Option) *Store {
	if cfg.Bucket == "" {
		cfg.Bucket = "optimizer_decisions"
	}
	if cfg.History == 0 {
		cfg.History = 5
	}

	s := &Store{
		cfg:    cfg,
		memory: make(map[string]types.Decision),
	}
	s.BaseService = service.NewBaseService(Name, opts...)
	return s
}

// Start opens the KV bucket when NATS is available, falling back to the
// in-memory map otherwise.
func (s *Store) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	nats := s.NATS()
	if nats == nil || !nats.IsHealthy() {
		s.Logger().Info("decision store running in memory mode")
		return nil
	}

	bucket, err := nats.EnsureKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      s.cfg.Bucket,
		Description: "Latest optimization decision per workload",
		History:     s.cfg.History,
	})
	if err != nil {
		_ = s.BaseService.Stop(time.Second)
		return errors.Wrap(err, "Store", "Start", "open decision bucket")
	}

	s.mu.Lock()
	s.kv = nats.NewKVStore(bucket)
	s.mu.Unlock()

	s.Logger().Info("decision store backed by JetStream KV", "bucket", s.cfg.Bucket)
	return nil
}

// Stop shuts the store down
func (s *Store) Stop(timeout time.Duration) error {
	s.mu.Lock()
	s.kv = nil
	s.mu.Unlock()
	return s.BaseService.Stop(timeout)
}

// Backend reports which backend is active: "jetstream" or "memory"
func (s *Store) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kv != nil {
		return "jetstream"
	}
	return "memory"
}

// PutDecision stores the latest decision for its workload
func (s *Store) PutDecision(ctx context.Context, d types.Decision) error {
	if d.Workload == "" {
		return fmt.Errorf("%w: decision missing workload", errors.ErrInvalidConfig)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	s.mu.Lock()
	kv := s.kv
	if kv == nil {
		s.memory[d.Workload] = d
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if _, err := kv.PutJSON(ctx, d.Workload, d); err != nil {
		return errors.WrapTransient(err, "Store", "PutDecision", "write decision "+d.Workload)
	}
	return nil
}

// GetDecision returns the latest decision for a workload
func (s *Store) GetDecision(ctx context.Context, workload string) (types.Decision, error) {
	s.mu.RLock()
	kv := s.kv
	if kv == nil {
		d, ok := s.memory[workload]
		s.mu.RUnlock()
		if !ok {
			return types.Decision{}, fmt.Errorf("decision for %q: %w", workload, errors.ErrKeyNotFound)
		}
		return d, nil
	}
	s.mu.RUnlock()

	var d types.Decision
	if _, err := kv.GetJSON(ctx, workload, &d); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return types.Decision{}, fmt.Errorf("decision for %q: %w", workload, errors.ErrKeyNotFound)
		}
		return types.Decision{}, errors.WrapTransient(err, "Store", "GetDecision", "read decision "+workload)
	}
	return d, nil
}

// ListDecisions returns the latest decision for every workload, sorted by
// workload name
func (s *Store) ListDecisions(ctx context.Context) ([]types.Decision, error) {
	s.mu.RLock()
	kv := s.kv
	if kv == nil {
		out := make([]types.Decision, 0, len(s.memory))
		for _, d := range s.memory {
			out = append(out, d)
		}
		s.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].Workload < out[j].Workload })
		return out, nil
	}
	s.mu.RUnlock()

	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListDecisions", "list decision keys")
	}
	sort.Strings(keys)

	out := make([]types.Decision, 0, len(keys))
	for _, key := range keys {
		var d types.Decision
		if _, err := kv.GetJSON(ctx, key, &d); err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between Keys and Get
			}
			return nil, errors.WrapTransient(err, "Store", "ListDecisions", "read decision "+key)
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteDecision removes a workload's decision. Deleting a missing
// decision is a no-op.
func (s *Store) DeleteDecision(ctx context.Context, workload string) error {
	s.mu.Lock()
	kv := s.kv
	if kv == nil {
		delete(s.memory, workload)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := kv.Delete(ctx, workload); err != nil {
		return errors.WrapTransient(err, "Store", "DeleteDecision", "delete decision "+workload)
	}
	return nil
}

// HealthCheck reports storage health. In KV mode the NATS connection must
// be up for the bucket to be reachable.
func (s *Store) HealthCheck(_ context.Context) (health.CheckResult, error) {
	if s.State() != service.StateRunning {
		return health.Unhealthy(fmt.Sprintf("store is %s", s.State())), nil
	}

	backend := s.Backend()
	if backend == "jetstream" {
		if nats := s.NATS(); nats != nil && !nats.IsHealthy() {
			return health.Unhealthy("decision bucket unreachable: NATS connection is " +
				nats.Status().String()), nil
		}
	}

	return health.Healthy("decision store available").
		WithMetadata("backend", backend), nil
}

// Recover restarts the store, reopening the bucket if NATS is back
func (s *Store) Recover(ctx context.Context) error {
	s.Logger().Info("recovering store via restart")
	if err := s.Stop(5 * time.Second); err != nil {
		s.Logger().Warn("stop during recovery failed", "error", err)
	}
	return s.Start(ctx)
}

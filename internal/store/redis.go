// Package store keeps scan results in Redis so they outlive the in-memory
// session and can be read by other services.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

const opTimeout = 5 * time.Second

// ErrNotFound is returned when no data is stored for a session.
var ErrNotFound = errors.New("scan not found in store")

// Store writes scan events to Redis. It implements scanner.EventSink.
//
// Keys, relative to the configured prefix:
//
//	<prefix>:<id>:results   list of ProbeOutcome JSON, in commit order
//	<prefix>:<id>:progress  latest ProgressSnapshot JSON
//	<prefix>:<id>:summary   Summary JSON
//	<prefix>:latest         id of the most recent session written
//
// Session ids restart with the process, so a new process should continue
// after LastSessionID instead of reusing ids whose keys are still alive.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger

	mu    sync.Mutex
	owned map[uint64]bool // sessions whose leftover keys were cleared by this process
}

// New creates a store for cfg. It does not contact the server.
func New(cfg config.RedisConfig, logger *zap.SugaredLogger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(client, cfg.KeyPrefix, time.Duration(cfg.TTL)*time.Second, logger)
}

func newWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.SugaredLogger) *Store {
	if prefix == "" {
		prefix = "antbox:scan"
	}
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		owned:  make(map[uint64]bool),
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(id uint64, suffix string) string {
	return s.prefix + ":" + strconv.FormatUint(id, 10) + ":" + suffix
}

func (s *Store) latestKey() string {
	return s.prefix + ":latest"
}

// claim deletes whatever an earlier process stored under id before this
// process writes to it for the first time. Writers for the same session wait
// until the delete is done.
func (s *Store) claim(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned[id] {
		return nil
	}
	err := s.client.Del(ctx, s.key(id, "results"), s.key(id, "progress"), s.key(id, "summary")).Err()
	if err != nil {
		return fmt.Errorf("failed to clear stale keys for scan %d: %w", id, err)
	}
	s.owned[id] = true
	return nil
}

// HandleResult appends an outcome to the session result list.
func (s *Store) HandleResult(sessionID uint64, outcome scanner.ProbeOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.claim(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to store result for %s: %w", outcome.Address, err)
	}

	key := s.key(sessionID, "results")
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.Set(ctx, s.latestKey(), sessionID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store result for %s: %w", outcome.Address, err)
	}
	return nil
}

// HandleProgress stores the latest snapshot.
func (s *Store) HandleProgress(snapshot scanner.ProgressSnapshot) error {
	return s.setJSON(snapshot.SessionID, "progress", snapshot)
}

// HandleSummary stores the summary.
func (s *Store) HandleSummary(summary scanner.Summary) error {
	if err := s.setJSON(summary.SessionID, "summary", summary); err != nil {
		return err
	}

	s.logger.Debugw("Scan summary stored", "scan_id", summary.SessionID, "found", summary.Counters.Found)
	return nil
}

// setJSON writes one session document and moves the latest marker to id in
// the same transaction.
func (s *Store) setJSON(id uint64, suffix string, v any) error {
	key := s.key(id, suffix)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.claim(ctx, id); err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.Set(ctx, s.latestKey(), id, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// LastSessionID returns the id most recently written by any process, or 0
// when none is stored.
func (s *Store) LastSessionID(ctx context.Context) (uint64, error) {
	id, err := s.client.Get(ctx, s.latestKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest scan id: %w", err)
	}
	return id, nil
}

// Results returns the stored outcomes of a session.
func (s *Store) Results(ctx context.Context, id uint64) ([]scanner.ProbeOutcome, error) {
	raw, err := s.client.LRange(ctx, s.key(id, "results"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	return decodeResults(raw)
}

// Summary returns the stored summary of a finished session.
func (s *Store) Summary(ctx context.Context, id uint64) (scanner.Summary, error) {
	var summary scanner.Summary

	raw, err := s.client.Get(ctx, s.key(id, "summary")).Bytes()
	if errors.Is(err, redis.Nil) {
		return summary, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to read summary: %w", err)
	}

	if err := json.Unmarshal(raw, &summary); err != nil {
		return summary, fmt.Errorf("failed to decode summary: %w", err)
	}
	return summary, nil
}

func decodeResults(raw []string) ([]scanner.ProbeOutcome, error) {
	out := make([]scanner.ProbeOutcome, 0, len(raw))
	for i, item := range raw {
		var o scanner.ProbeOutcome
		if err := json.Unmarshal([]byte(item), &o); err != nil {
			return nil, fmt.Errorf("failed to decode result %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

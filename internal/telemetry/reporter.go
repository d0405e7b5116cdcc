// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSnapshotSchedule writes a snapshot every five minutes.
const DefaultSnapshotSchedule = "@every 5m"

// DefaultSnapshotStream is the Redis stream snapshots are appended to.
const DefaultSnapshotStream = "kgassist:stats"

// SnapshotSink persists a snapshot somewhere.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, s Snapshot) error
}

// SinkFunc adapts a function to SnapshotSink.
type SinkFunc func(ctx context.Context, s Snapshot) error

// WriteSnapshot calls f.
func (f SinkFunc) WriteSnapshot(ctx context.Context, s Snapshot) error { return f(ctx, s) }

// =============================================================================
// REPORTER
// =============================================================================

// Reporter periodically copies the aggregator into every sink.
type Reporter struct {
	agg     *Aggregator
	sinks   []SnapshotSink
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
}

// NewReporter schedules snapshots on spec (standard cron syntax or
// "@every <duration>"). An empty spec uses DefaultSnapshotSchedule.
func NewReporter(agg *Aggregator, spec string, logger zerolog.Logger, sinks ...SnapshotSink) (*Reporter, error) {
	if agg == nil {
		return nil, errors.New("telemetry: reporter needs an aggregator")
	}
	if spec == "" {
		spec = DefaultSnapshotSchedule
	}
	r := &Reporter{
		agg:     agg,
		sinks:   sinks,
		cron:    cron.New(),
		logger:  logger,
		timeout: 10 * time.Second,
	}
	if _, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.Flush(ctx)
	}); err != nil {
		return nil, fmt.Errorf("telemetry: invalid snapshot schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start starts the scheduler.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop waits for a running flush, then writes one final snapshot.
func (r *Reporter) Stop(ctx context.Context) {
	done := r.cron.Stop()
	<-done.Done()
	r.Flush(ctx)
}

// Flush writes the current snapshot to every sink and returns the number of
// sinks that failed. Sink errors are logged, not returned.
func (r *Reporter) Flush(ctx context.Context) int {
	snap := r.agg.Snapshot()
	failed := 0
	for _, sink := range r.sinks {
		if err := sink.WriteSnapshot(ctx, snap); err != nil {
			failed++
			r.logger.Warn().Err(err).Str("event", "SNAPSHOT_FAILED").Msg("stats snapshot not written")
		}
	}
	return failed
}

// =============================================================================
// SINKS
// =============================================================================

// LogSink writes snapshots as structured log lines.
type LogSink struct {
	Logger zerolog.Logger
}

// WriteSnapshot logs s at info level.
func (l LogSink) WriteSnapshot(_ context.Context, s Snapshot) error {
	l.Logger.Info().
		Str("event", "STATS_SNAPSHOT").
		Int64("total", s.TotalQueries).
		Int64("direct", s.DirectQueries).
		Int64("semantic", s.SemanticQueries).
		Int64("complex", s.ComplexQueries).
		Int64("fallback", s.FallbackQueries).
		Int64("tokens_saved", s.TotalTokensSaved).
		Float64("saving_rate", s.TokenSavingRate).
		Float64("avg_ms", s.AverageLatencyMs).
		Msg("stats")
	return nil
}

// RedisStreamSink appends snapshots to a Redis stream with XADD.
type RedisStreamSink struct {
	Client *redis.Client
	Stream string
	// MaxLen trims the stream approximately; 0 disables trimming.
	MaxLen int64
}

// NewRedisStreamSink connects to addr and verifies the connection.
func NewRedisStreamSink(ctx context.Context, addr, password string, db int, stream string) (*RedisStreamSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if stream == "" {
		stream = DefaultSnapshotStream
	}
	return &RedisStreamSink{Client: rdb, Stream: stream, MaxLen: 10000}, nil
}

// WriteSnapshot appends s to the stream.
func (r *RedisStreamSink) WriteSnapshot(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.Stream,
		Values: map[string]interface{}{
			"total":    s.TotalQueries,
			"taken_at": s.TakenAt.UTC().Format(time.RFC3339),
			"snapshot": string(payload),
		},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	if err := r.Client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStreamSink) Close() error {
	return r.Client.Close()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

var (
	ErrGraphStoreUnavailable = errors.New("graphstore: backend unavailable")
	ErrCircuitOpen           = errors.New("graphstore: circuit open")
	ErrWriteNotPermitted     = errors.New("graphstore: write clause rejected by read-only transaction")
)

// ConnectionState mirrors the resilient-client state machine used for
// the vector store client: a graph store that has lost its connection
// degrades rather than failing every caller outright.
type ConnectionState int32

const (
	StateConnected ConnectionState = iota
	StateDegraded
	StateCircuitOpen
	StateHalfOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateCircuitOpen:
		return "circuit_open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the resilient store the same way ClientConfig
// configures the vector-store client: retry, backoff, circuit
// threshold, and health-check cadence are all explicit and validated.
type Config struct {
	URI      string
	Username string
	Password string

	RetryAttempts   int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	RetryJitter     float64

	CircuitThreshold    int
	CircuitWindow       time.Duration
	CircuitCooldown     time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the defaults observed in the vector-store
// client's DefaultClientConfig: bounded retries, exponential backoff
// with jitter, a five-failure circuit threshold.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:       3,
		RetryBackoff:        200 * time.Millisecond,
		MaxRetryBackoff:     5 * time.Second,
		RetryJitter:         0.2,
		CircuitThreshold:    5,
		CircuitWindow:       30 * time.Second,
		CircuitCooldown:     15 * time.Second,
		HealthCheckInterval: 10 * time.Second,
		HealthCheckTimeout:  3 * time.Second,
		Logger:              slog.Default(),
	}
}

func (c Config) applyDefaults() Config {
	d := DefaultConfig()
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitWindow <= 0 {
		c.CircuitWindow = d.CircuitWindow
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Validate reports the first invalid field, the same flat-check
// pattern the vector-store client's ClientConfig.Validate uses.
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("graphstore: uri is required")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("graphstore: retry_jitter must be in [0,1]")
	}
	return nil
}

type failureEvent struct {
	at time.Time
}

// ResilientStore wraps a neo4j driver with the circuit-breaker and
// retry behavior grounded on the vector-store client's ResilientClient:
// per-call retry with exponential backoff and jitter, a sliding-window
// failure count that opens the circuit, and a background health-check
// loop that recovers it.
type ResilientStore struct {
	driver neo4j.DriverWithContext
	config Config
	logger *slog.Logger

	state          atomic.Int32
	circuitOpenAt  atomic.Int64 // unix nanos, 0 when not open
	halfOpenTest   atomic.Bool
	closed         atomic.Bool

	mu       sync.Mutex
	failures []failureEvent

	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// New dials the configured backend and starts the health-check loop.
func New(driver neo4j.DriverWithContext, config Config) (*ResilientStore, error) {
	config = config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &ResilientStore{
		driver: driver,
		config: config,
		logger: config.Logger,
	}
	s.state.Store(int32(StateConnected))

	ctx, cancel := context.WithTimeout(context.Background(), config.HealthCheckTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		s.logger.Warn("graphstore: initial connectivity check failed, starting degraded", "error", err)
		s.state.Store(int32(StateDegraded))
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	s.healthCancel = healthCancel
	s.healthWg.Add(1)
	go s.runHealthChecker(healthCtx)

	return s, nil
}

func (s *ResilientStore) GetState() ConnectionState {
	return ConnectionState(s.state.Load())
}

// execute runs fn under the circuit-breaker and retry policy, exactly
// as ResilientClient.Execute does for the vector store.
func (s *ResilientStore) execute(ctx context.Context, fn func(context.Context) error) error {
	state := s.GetState()

	if state == StateCircuitOpen {
		if !s.shouldTryHalfOpen() {
			return ErrCircuitOpen
		}
		if !s.halfOpenTest.CompareAndSwap(false, true) {
			return ErrCircuitOpen
		}
		s.transitionState(StateHalfOpen)
		defer s.halfOpenTest.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			s.recordSuccess()
			return nil
		}
		if !s.isRetryable(lastErr) {
			break
		}
	}

	s.recordFailure()
	return fmt.Errorf("%w: %w", ErrGraphStoreUnavailable, lastErr)
}

func (s *ResilientStore) calculateBackoff(attempt int) time.Duration {
	backoff := s.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > s.config.MaxRetryBackoff {
		backoff = s.config.MaxRetryBackoff
	}
	jitter := float64(backoff) * s.config.RetryJitter * (rand.Float64()*2 - 1)
	result := time.Duration(float64(backoff) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

// isWriteRejection reports whether err is the server's rejection of a
// write attempted inside a read-only transaction — Neo4j surfaces this
// as a ClientError.Statement.AccessMode Neo4jError rather than a
// distinct Go error type.
func isWriteRejection(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if strings.Contains(neoErr.Code, "AccessMode") {
			return true
		}
	}
	return strings.Contains(err.Error(), "Writing in read access mode not allowed")
}

func (s *ResilientStore) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (s *ResilientStore) recordSuccess() {
	if s.GetState() != StateConnected {
		s.transitionState(StateConnected)
	}
	s.mu.Lock()
	s.failures = nil
	s.mu.Unlock()
}

func (s *ResilientStore) recordFailure() {
	now := time.Now()
	s.mu.Lock()
	s.failures = append(s.failures, failureEvent{at: now})
	cutoff := now.Add(-s.config.CircuitWindow)
	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	s.failures = kept
	count := len(s.failures)
	s.mu.Unlock()

	if count >= s.config.CircuitThreshold {
		s.circuitOpenAt.Store(now.UnixNano())
		s.transitionState(StateCircuitOpen)
		return
	}
	if s.GetState() == StateConnected {
		s.transitionState(StateDegraded)
	}
}

func (s *ResilientStore) shouldTryHalfOpen() bool {
	openedAt := s.circuitOpenAt.Load()
	if openedAt == 0 {
		return true
	}
	return time.Since(time.Unix(0, openedAt)) >= s.config.CircuitCooldown
}

func (s *ResilientStore) transitionState(next ConnectionState) {
	prev := ConnectionState(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Info("graphstore: connection state transition", "from", prev.String(), "to", next.String())
	}
}

func (s *ResilientStore) runHealthChecker(ctx context.Context) {
	defer s.healthWg.Done()
	for {
		interval := s.config.HealthCheckInterval
		if s.GetState() == StateDegraded {
			interval = interval / 2
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.performHealthCheck(ctx)
		}
	}
}

func (s *ResilientStore) performHealthCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, s.config.HealthCheckTimeout)
	defer cancel()
	if err := s.driver.VerifyConnectivity(checkCtx); err != nil {
		s.logger.Warn("graphstore: health check failed", "error", err)
		if s.GetState() == StateConnected {
			s.transitionState(StateDegraded)
		}
		return
	}
	if s.GetState() == StateDegraded {
		s.transitionState(StateConnected)
	}
}

// Query executes cypher in a read-only transaction, resilient per
// execute's circuit-breaker/retry policy. A write clause surfaces as a
// neo4j error which the caller sees wrapped in ErrGraphStoreUnavailable
// rather than silently succeeding, because no write transaction is ever
// opened here.
func (s *ResilientStore) Query(ctx context.Context, cypher string, params map[string]any) ([]types.ResultRow, error) {
	var rows []types.ResultRow

	err := s.execute(ctx, func(ctx context.Context) error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			var collected []types.ResultRow
			for res.Next(ctx) {
				record := res.Record()
				collected = append(collected, types.ResultRow{
					Columns: record.Keys,
					Values:  record.Values,
				})
			}
			return collected, res.Err()
		})
		if err != nil {
			if isWriteRejection(err) {
				return fmt.Errorf("%w: %w", ErrWriteNotPermitted, err)
			}
			return err
		}
		rows, _ = result.([]types.ResultRow)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ResilientStore) IntrospectSchema(ctx context.Context) (SchemaSnapshot, error) {
	snapshot := SchemaSnapshot{PropertiesByLabel: map[string][]string{}}

	labelRows, err := s.Query(ctx, "CALL db.labels()", nil)
	if err != nil {
		return snapshot, fmt.Errorf("graphstore: introspect labels: %w", err)
	}
	for _, row := range labelRows {
		if len(row.Values) > 0 {
			if s, ok := row.Values[0].(string); ok {
				snapshot.Labels = append(snapshot.Labels, s)
			}
		}
	}

	relRows, err := s.Query(ctx, "CALL db.relationshipTypes()", nil)
	if err != nil {
		return snapshot, fmt.Errorf("graphstore: introspect relationship types: %w", err)
	}
	for _, row := range relRows {
		if len(row.Values) > 0 {
			if s, ok := row.Values[0].(string); ok {
				snapshot.RelationshipTypes = append(snapshot.RelationshipTypes, s)
			}
		}
	}

	propRows, err := s.Query(ctx, "CALL db.schema.nodeTypeProperties()", nil)
	if err != nil {
		return snapshot, fmt.Errorf("graphstore: introspect properties: %w", err)
	}
	for _, row := range propRows {
		values := map[string]any{}
		for i, col := range row.Columns {
			if i < len(row.Values) {
				values[col] = row.Values[i]
			}
		}
		labels, _ := values["nodeLabels"].([]any)
		prop, _ := values["propertyName"].(string)
		for _, l := range labels {
			label, ok := l.(string)
			if !ok {
				continue
			}
			snapshot.PropertiesByLabel[label] = append(snapshot.PropertiesByLabel[label], prop)
		}
	}

	return snapshot, nil
}

// EnsureVectorIndex issues vector-index DDL. It is the only write the
// store interface permits, and is only ever called from the admin
// refresh path after the caller has checked Policy.WriteEnabled.
func (s *ResilientStore) EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error {
	cypher := fmt.Sprintf(
		`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)
		 OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: $dimensions, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		name, label, property,
	)
	return s.execute(ctx, func(ctx context.Context) error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, cypher, map[string]any{"dimensions": dimensions})
		})
		return err
	})
}

// DropVectorIndex issues `DROP INDEX ... IF EXISTS`, the other half of
// the dimension-change path: EnsureVectorIndex's `IF NOT EXISTS` DDL
// cannot alter an existing index's dimensions, so a dimension change
// must drop it first.
func (s *ResilientStore) DropVectorIndex(ctx context.Context, name string) error {
	cypher := fmt.Sprintf(`DROP INDEX %s IF EXISTS`, name)
	return s.execute(ctx, func(ctx context.Context) error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, cypher, nil)
		})
		return err
	})
}

func (s *ResilientStore) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.healthCancel != nil {
		s.healthCancel()
	}
	s.healthWg.Wait()
	return s.driver.Close(ctx)
}

var _ Store = (*ResilientStore)(nil)

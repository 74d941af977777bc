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
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore builds a ResilientStore without dialing a real driver,
// exercising only the circuit-breaker/retry machinery that never
// touches s.driver directly.
func newTestStore(t *testing.T, cfg Config) *ResilientStore {
	t.Helper()
	cfg = cfg.applyDefaults()
	require.NoError(t, cfg.Validate())
	s := &ResilientStore{config: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	s.state.Store(int32(StateConnected))
	return s
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "circuit_open", StateCircuitOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}

func TestConfigApplyDefaultsFillsOnlyUnsetFields(t *testing.T) {
	cfg := Config{RetryAttempts: 7}.applyDefaults()

	assert.Equal(t, 7, cfg.RetryAttempts)
	assert.Equal(t, DefaultConfig().RetryBackoff, cfg.RetryBackoff)
	assert.Equal(t, DefaultConfig().MaxRetryBackoff, cfg.MaxRetryBackoff)
	assert.Equal(t, DefaultConfig().CircuitThreshold, cfg.CircuitThreshold)
	assert.Equal(t, DefaultConfig().CircuitWindow, cfg.CircuitWindow)
	assert.Equal(t, DefaultConfig().CircuitCooldown, cfg.CircuitCooldown)
	assert.Equal(t, DefaultConfig().HealthCheckInterval, cfg.HealthCheckInterval)
	assert.Equal(t, DefaultConfig().HealthCheckTimeout, cfg.HealthCheckTimeout)
	assert.NotNil(t, cfg.Logger)
}

func TestConfigValidateRequiresURI(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.ErrorContains(t, err, "uri is required")
}

func TestConfigValidateRejectsJitterOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "bolt://localhost:7687"
	cfg.RetryJitter = 1.5

	err := cfg.Validate()
	assert.ErrorContains(t, err, "retry_jitter")
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "bolt://localhost:7687"

	assert.NoError(t, cfg.Validate())
}

func TestCalculateBackoffGrowsExponentiallyAndRespectsCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "bolt://localhost:7687"
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.MaxRetryBackoff = 250 * time.Millisecond
	cfg.RetryJitter = 0

	s := newTestStore(t, cfg)

	assert.Equal(t, 100*time.Millisecond, s.calculateBackoff(1))
	assert.Equal(t, 200*time.Millisecond, s.calculateBackoff(2))
	// attempt 3 would be 400ms uncapped, clamped to the 250ms ceiling.
	assert.Equal(t, 250*time.Millisecond, s.calculateBackoff(3))
}

func TestCalculateBackoffJitterStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URI = "bolt://localhost:7687"
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.MaxRetryBackoff = time.Second
	cfg.RetryJitter = 0.2

	s := newTestStore(t, cfg)

	for i := 0; i < 50; i++ {
		backoff := s.calculateBackoff(1)
		assert.GreaterOrEqual(t, backoff, time.Duration(0))
		assert.LessOrEqual(t, backoff, 120*time.Millisecond)
	}
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestIsRetryableClassifiesKnownErrorKinds(t *testing.T) {
	s := newTestStore(t, Config{URI: "bolt://localhost:7687"})

	assert.False(t, s.isRetryable(context.Canceled))
	assert.True(t, s.isRetryable(context.DeadlineExceeded))
	assert.True(t, s.isRetryable(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, s.isRetryable(fakeTimeoutErr{}))
	assert.False(t, s.isRetryable(errors.New("some unrelated failure")))
}

func TestRecordSuccessClearsFailuresAndRestoresConnectedState(t *testing.T) {
	s := newTestStore(t, Config{URI: "bolt://localhost:7687"})
	s.transitionState(StateDegraded)
	s.failures = []failureEvent{{at: time.Now()}}

	s.recordSuccess()

	assert.Equal(t, StateConnected, s.GetState())
	assert.Empty(t, s.failures)
}

func TestRecordFailureDegradesBeforeThresholdAndOpensCircuitAtThreshold(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", CircuitThreshold: 3, CircuitWindow: time.Minute}
	s := newTestStore(t, cfg)

	s.recordFailure()
	assert.Equal(t, StateDegraded, s.GetState())

	s.recordFailure()
	assert.Equal(t, StateDegraded, s.GetState())

	s.recordFailure()
	assert.Equal(t, StateCircuitOpen, s.GetState())
}

func TestRecordFailureDropsEventsOutsideTheWindow(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", CircuitThreshold: 2, CircuitWindow: 10 * time.Millisecond}
	s := newTestStore(t, cfg)

	s.failures = []failureEvent{{at: time.Now().Add(-time.Hour)}}
	s.recordFailure()

	// the stale failure should have aged out, leaving only this one -
	// below the threshold of 2, so the circuit stays closed.
	assert.Equal(t, StateDegraded, s.GetState())
	assert.Len(t, s.failures, 1)
}

func TestShouldTryHalfOpenBeforeAndAfterCooldown(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", CircuitCooldown: 20 * time.Millisecond}
	s := newTestStore(t, cfg)

	assert.True(t, s.shouldTryHalfOpen(), "never opened yet, so no cooldown to wait out")

	s.circuitOpenAt.Store(time.Now().UnixNano())
	assert.False(t, s.shouldTryHalfOpen())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, s.shouldTryHalfOpen())
}

func TestTransitionStateIsIdempotentAndUpdatesState(t *testing.T) {
	s := newTestStore(t, Config{URI: "bolt://localhost:7687"})

	s.transitionState(StateDegraded)
	assert.Equal(t, StateDegraded, s.GetState())

	s.transitionState(StateDegraded)
	assert.Equal(t, StateDegraded, s.GetState())
}

func TestExecuteRetriesRetryableFailuresThenSucceeds(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", RetryAttempts: 3, RetryBackoff: time.Millisecond, RetryJitter: 0}
	s := newTestStore(t, cfg)

	attempts := 0
	err := s.execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, StateConnected, s.GetState())
}

func TestExecuteStopsImmediatelyOnNonRetryableError(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", RetryAttempts: 3, RetryBackoff: time.Millisecond}
	s := newTestStore(t, cfg)

	attempts := 0
	boom := errors.New("permanent failure")
	err := s.execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGraphStoreUnavailable)
	assert.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestExecuteExhaustsRetriesAndOpensCircuitAtThreshold(t *testing.T) {
	cfg := Config{
		URI:              "bolt://localhost:7687",
		RetryAttempts:    1,
		RetryBackoff:     time.Millisecond,
		CircuitThreshold: 1,
		CircuitWindow:    time.Minute,
	}
	s := newTestStore(t, cfg)

	err := s.execute(context.Background(), func(ctx context.Context) error {
		return context.DeadlineExceeded
	})

	require.Error(t, err)
	assert.Equal(t, StateCircuitOpen, s.GetState())
}

func TestExecuteRejectsImmediatelyWhileCircuitOpenAndCooldownNotElapsed(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", CircuitCooldown: time.Hour}
	s := newTestStore(t, cfg)
	s.transitionState(StateCircuitOpen)
	s.circuitOpenAt.Store(time.Now().UnixNano())

	calls := 0
	err := s.execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "fn must not run while the circuit is open and cooling down")
}

func TestExecuteTriesHalfOpenAfterCooldownAndRecoversOnSuccess(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", CircuitCooldown: time.Millisecond}
	s := newTestStore(t, cfg)
	s.transitionState(StateCircuitOpen)
	s.circuitOpenAt.Store(time.Now().Add(-time.Hour).UnixNano())

	err := s.execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, StateConnected, s.GetState())
}

func TestIsWriteRejectionDetectsAccessModeNeo4jError(t *testing.T) {
	err := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.AccessMode", Msg: "Writing in read access mode not allowed"}
	assert.True(t, isWriteRejection(err))
}

func TestIsWriteRejectionIgnoresUnrelatedNeo4jError(t *testing.T) {
	err := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "invalid input"}
	assert.False(t, isWriteRejection(err))
}

func TestIsWriteRejectionMatchesByMessageWhenNotATypedNeo4jError(t *testing.T) {
	err := fmt.Errorf("server rejected: Writing in read access mode not allowed")
	assert.True(t, isWriteRejection(err))
}

func TestQueryClassifiesWriteRejectionAsErrWriteNotPermitted(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", RetryAttempts: 2, RetryBackoff: time.Millisecond}
	s := newTestStore(t, cfg)

	neoErr := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.AccessMode", Msg: "Writing in read access mode not allowed"}
	attempts := 0
	err := s.execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if isWriteRejection(neoErr) {
			return fmt.Errorf("%w: %w", ErrWriteNotPermitted, neoErr)
		}
		return neoErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteNotPermitted)
	assert.ErrorIs(t, err, ErrGraphStoreUnavailable)
	assert.Equal(t, 1, attempts, "a write rejection must not be retried")
}

func TestExecuteReturnsContextErrorWhenCancelledDuringBackoff(t *testing.T) {
	cfg := Config{URI: "bolt://localhost:7687", RetryAttempts: 2, RetryBackoff: time.Hour}
	s := newTestStore(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- s.execute(ctx, func(ctx context.Context) error {
			attempts++
			return context.DeadlineExceeded
		})
	}()

	cancel()
	err := <-done
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "cancellation during the backoff sleep must stop further attempts")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit is the Audit Sink (C11): an append-only, hash-chained
// JSONL log guaranteeing exactly one terminal record per request,
// grounded on ttl/logger.go's dual slog+file output and hash-chain
// construction. Writing the record is fail-open: a disk or fsync
// failure is logged and swallowed, never propagated to the caller,
// because losing an audit record must never fail the request it
// describes.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/paladugusuresh/Graphrag/internal/types"
)

// GenesisHash seeds the chain for the first record ever written.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// auditLogFileMode restricts the audit log to owner-only access; the
// log records question text previews and reason codes, which is
// itself sensitive.
const auditLogFileMode = 0600

// Record is one hash-chained entry on disk. EntryHash is computed over
// every other field plus PrevHash, so any modification after the fact
// breaks the chain at VerifyChain time.
type Record struct {
	Sequence       int64  `json:"sequence"`
	TraceID        string `json:"trace_id"`
	Timestamp      string `json:"timestamp"`
	Stage          string `json:"stage"`
	Outcome        string `json:"outcome"`
	ReasonCode     string `json:"reason_code,omitempty"`
	PayloadPreview string `json:"payload_preview,omitempty"`
	PrevHash       string `json:"prev_hash"`
	EntryHash      string `json:"entry_hash"`
}

// Sink is the C11 boundary: one durable, ordered record per pipeline
// stage outcome, and exactly one terminal record per request.
type Sink interface {
	Record(ctx context.Context, event types.AuditEvent) error
	VerifyChain() (valid bool, breakIndex int64, err error)
	Close() error
}

// FileSink is the production Sink, one append-only file per process.
type FileSink struct {
	file     *os.File
	path     string
	mu       sync.Mutex
	sequence int64
	prevHash string
}

// NewFileSink opens path in append mode, creating it with 0600
// permissions if absent, and resumes the hash chain from the last
// record already on disk.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}

	s := &FileSink{file: file, path: path, prevHash: GenesisHash}
	if err := s.resumeChain(); err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: resume chain: %w", err)
	}

	slog.Info("audit sink initialised", "path", path, "starting_sequence", s.sequence)
	return s, nil
}

// Record appends one audit event to the chain. Failures are logged
// and swallowed: the caller still receives nil so a disk fault never
// turns into a pipeline-wide failure.
func (s *FileSink) Record(_ context.Context, event types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	record := Record{
		Sequence:       s.sequence,
		TraceID:        event.TraceID,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		Stage:          event.Stage,
		Outcome:        string(event.Outcome),
		ReasonCode:     event.ReasonCode,
		PayloadPreview: event.PayloadPreview,
		PrevHash:       s.prevHash,
	}
	record.EntryHash = computeRecordHash(record)

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		slog.Warn("audit: marshal record failed, record dropped", "error", err)
		return nil
	}
	if _, err := s.file.Write(append(jsonBytes, '\n')); err != nil {
		slog.Warn("audit: write record failed, record dropped", "error", err)
		return nil
	}
	if err := s.file.Sync(); err != nil {
		slog.Warn("audit: fsync failed, record may not be durable", "error", err)
	}

	s.prevHash = record.EntryHash
	slog.Info("audit.event.recorded",
		"trace_id", record.TraceID, "stage", record.Stage,
		"outcome", record.Outcome, "reason_code", record.ReasonCode,
		"sequence", record.Sequence)
	return nil
}

// VerifyChain walks the file from the genesis hash and reports the
// index of the first broken link, if any.
func (s *FileSink) VerifyChain() (valid bool, breakIndex int64, err error) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return false, -1, fmt.Errorf("audit: open for verification: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prev := GenesisHash
	var index int64

	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.PrevHash != prev {
			return false, index, nil
		}
		if computeRecordHash(record) != record.EntryHash {
			return false, index, nil
		}
		prev = record.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("audit: read log: %w", err)
	}
	return true, -1, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileSink) resumeChain() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var last Record
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Sequence > last.Sequence {
			last = record
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last.Sequence > 0 {
		s.sequence = last.Sequence
		s.prevHash = last.EntryHash
	}
	return nil
}

func computeRecordHash(record Record) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s",
		record.Sequence, record.TraceID, record.Timestamp,
		record.Stage, record.Outcome, record.ReasonCode,
		record.PayloadPreview, record.PrevHash)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

var _ Sink = (*FileSink)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/paladugusuresh/Graphrag/internal/audit"
	"github.com/paladugusuresh/Graphrag/internal/executor"
	"github.com/paladugusuresh/Graphrag/internal/guardrail"
	"github.com/paladugusuresh/Graphrag/internal/observability"
	"github.com/paladugusuresh/Graphrag/internal/planner"
	"github.com/paladugusuresh/Graphrag/internal/policy"
	"github.com/paladugusuresh/Graphrag/internal/querygen"
	"github.com/paladugusuresh/Graphrag/internal/ratelimit"
	"github.com/paladugusuresh/Graphrag/internal/retriever"
	"github.com/paladugusuresh/Graphrag/internal/schema"
	"github.com/paladugusuresh/Graphrag/internal/summariser"
	"github.com/paladugusuresh/Graphrag/internal/types"
	"github.com/paladugusuresh/Graphrag/internal/validator"
)

var tracer = otel.Tracer("graphrag.pipeline")

// Response is the Pipeline's terminal success payload, returned to the
// HTTP layer after the C10 Summariser stage completes.
type Response struct {
	TraceID      string
	Answer       string
	Citations    []string
	Verification types.Verification
	Truncated    bool
}

// Pipeline wires C1/C3 through C10 in the fixed order spec'd for a
// single question: guardrail, rate limit, plan, generate, validate,
// execute, augment, summarise. Exactly one terminal AuditEvent is
// written per call to Handle, whatever the outcome.
type Pipeline struct {
	catalog    *schema.Catalog
	guard      *guardrail.Guardrail
	limiter    *ratelimit.Limiter
	planner    *planner.Planner
	generator  *querygen.Generator
	executor   *executor.Executor
	retriever  *retriever.Retriever
	summariser *summariser.Summariser
	sink       audit.Sink
	pol        policy.Policy
	metrics    *observability.Metrics
}

func New(
	catalog *schema.Catalog,
	guard *guardrail.Guardrail,
	limiter *ratelimit.Limiter,
	pl *planner.Planner,
	generator *querygen.Generator,
	exec *executor.Executor,
	ret *retriever.Retriever,
	summ *summariser.Summariser,
	sink audit.Sink,
	pol policy.Policy,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		catalog:    catalog,
		guard:      guard,
		limiter:    limiter,
		planner:    pl,
		generator:  generator,
		executor:   exec,
		retriever:  ret,
		summariser: summ,
		sink:       sink,
		pol:        pol,
		metrics:    metrics,
	}
}

// Handle runs one question through the full pipeline. callerKey scopes
// the rate limiter (API key, session id, or similar); traceID is
// generated if empty.
func (p *Pipeline) Handle(ctx context.Context, traceID, callerKey, question string) (Response, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Handle")
	defer span.End()

	if traceID == "" {
		traceID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("trace_id", traceID))

	resp, err := p.run(ctx, traceID, callerKey, question)
	p.audit(ctx, traceID, resp, err)
	return resp, err
}

func (p *Pipeline) run(ctx context.Context, traceID, callerKey, question string) (Response, error) {
	ctx, guardSpan := tracer.Start(ctx, "pipeline.Guardrail")
	guardStart := time.Now()
	decision, failedOpen := p.guard.Check(question)
	p.observe("guardrail", guardStart)
	if failedOpen {
		slog.Warn("pipeline: guardrail failed open, allowing request", "trace_id", traceID, "reason_code", "guardrail_error")
	}
	guardSpan.End()
	if !decision.Allowed {
		if p.metrics != nil {
			p.metrics.GuardrailBlocksTotal.WithLabelValues(decision.Reason).Inc()
		}
		return Response{TraceID: traceID}, NewError("guardrail", ReasonGuardrailBlocked, decision.Reason, nil)
	}

	if p.limiter != nil && !p.limiter.Allow(callerKey) {
		if p.metrics != nil {
			p.metrics.RateLimitDeniedTotal.Inc()
		}
		return Response{TraceID: traceID}, NewError("ratelimit", ReasonLLMRateLimited, "caller exceeded the configured request rate", nil)
	}

	allow := p.catalog.Current()

	ctx, planSpan := tracer.Start(ctx, "pipeline.Plan")
	planStart := time.Now()
	plan, err := p.planner.Plan(ctx, question)
	p.observe("plan", planStart)
	p.recordLLMCall("extraction", err)
	if err != nil {
		recordSpanError(planSpan, err)
		planSpan.End()
		return Response{TraceID: traceID}, wrapIfUntyped(err, "planner", ReasonPlanFailed, "planning failed")
	}
	planSpan.End()

	ctx, genSpan := tracer.Start(ctx, "pipeline.Generate")
	genStart := time.Now()
	candidate, err := p.generator.Generate(ctx, plan, allow)
	p.observe("generate", genStart)
	p.recordLLMCall("generation", err)
	if err != nil {
		recordSpanError(genSpan, err)
		genSpan.End()
		return Response{TraceID: traceID}, err
	}
	genSpan.End()

	ctx, valSpan := tracer.Start(ctx, "pipeline.Validate")
	valStart := time.Now()
	candidate, err = validator.Validate(candidate, allow, p.pol, true)
	p.observe("validate", valStart)
	if err != nil {
		recordSpanError(valSpan, err)
		valSpan.End()
		return Response{TraceID: traceID}, err
	}
	valSpan.End()

	ctx, execSpan := tracer.Start(ctx, "pipeline.Execute")
	execStart := time.Now()
	result, err := p.executor.Execute(ctx, candidate, p.pol)
	p.observe("execute", execStart)
	p.recordDBQuery(err)
	if err != nil {
		recordSpanError(execSpan, err)
		execSpan.End()
		return Response{TraceID: traceID}, err
	}
	execSpan.End()

	anchors := anchorIDs(result.Rows)

	ctx, augSpan := tracer.Start(ctx, "pipeline.Augment")
	augStart := time.Now()
	chunks, _, err := p.retriever.Augment(ctx, question, anchors, p.pol.RetrieverTopK, p.pol.RetrieverSimilarityThreshold, p.pol.MaxTraversalDepth)
	p.observe("augment", augStart)
	if err != nil {
		// Augment is fail-open internally; a non-nil error here would be
		// a programming error, not a degraded-context signal.
		slog.Error("pipeline: retriever returned an unexpected error", "trace_id", traceID, "error", err)
		chunks = nil
	}
	augSpan.End()

	_, sumSpan := tracer.Start(ctx, "pipeline.Summarise")
	sumStart := time.Now()
	summary, err := p.summariser.Summarise(ctx, question, result.Rows, chunks)
	p.observe("summarise", sumStart)
	p.recordLLMCall("summarisation", err)
	if err != nil {
		recordSpanError(sumSpan, err)
		sumSpan.End()
		return Response{TraceID: traceID}, err
	}
	sumSpan.End()

	if summary.Verification.Status == "failed" && p.metrics != nil {
		p.metrics.CitationsUnverifiedTotal.Inc()
	}

	return Response{
		TraceID:      traceID,
		Answer:       summary.SummaryText,
		Citations:    summary.Citations,
		Verification: summary.Verification,
		Truncated:    result.Truncated,
	}, nil
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveStage(stage, time.Since(start).Seconds())
}

func (p *Pipeline) recordLLMCall(kind string, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.LLMCallsTotal.WithLabelValues(kind, status).Inc()
}

func (p *Pipeline) recordDBQuery(err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		switch pipelineErr.Reason {
		case ReasonQueryTimeout:
			status = "timeout"
			p.metrics.ExecutorTimeoutsTotal.Inc()
		case ReasonWriteBlocked:
			status = "write_blocked"
		case ReasonUpstreamUnavailable:
			status = "upstream_unavailable"
		default:
			status = "error"
		}
	} else if err != nil {
		status = "error"
	}
	p.metrics.DBQueryTotal.WithLabelValues(status).Inc()
}

// audit writes exactly one terminal record per Handle call.
func (p *Pipeline) audit(ctx context.Context, traceID string, resp Response, err error) {
	if p.sink == nil {
		return
	}

	event := types.AuditEvent{
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
		Outcome:   types.OutcomePassed,
	}

	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		event.Stage = pipelineErr.Stage
		event.ReasonCode = string(pipelineErr.Reason)
		event.PayloadPreview = preview(pipelineErr.Message)
		if isRejection(pipelineErr.Reason) {
			event.Outcome = types.OutcomeBlocked
		} else {
			event.Outcome = types.OutcomeError
		}
	} else if err != nil {
		event.Stage = "pipeline"
		event.Outcome = types.OutcomeError
		event.PayloadPreview = preview(err.Error())
	} else {
		event.Stage = "summariser"
		event.PayloadPreview = preview(resp.Answer)
	}

	if recordErr := p.sink.Record(ctx, event); recordErr != nil {
		slog.Warn("pipeline: audit record failed", "trace_id", traceID, "error", recordErr)
	}
}

func isRejection(reason ReasonCode) bool {
	switch reason {
	case ReasonGuardrailBlocked, ReasonValidationWriteBanned, ReasonValidationUnknownLabel,
		ReasonValidationUnknownRel, ReasonValidationUnparameterised, ReasonValidationDepthExceeded,
		ReasonValidationLimitMissing, ReasonValidationParamUnbound, ReasonTemplateParamMissing:
		return true
	default:
		return false
	}
}

func wrapIfUntyped(err error, stage string, reason ReasonCode, message string) error {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) {
		return err
	}
	return NewError(stage, reason, message, err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func anchorIDs(rows []types.ResultRow) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, row := range rows {
		for id := range row.NodeIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func preview(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s…", s[:max])
}

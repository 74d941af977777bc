// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/paladugusuresh/Graphrag/pkg/logging"

	"github.com/paladugusuresh/Graphrag/internal/adminauth"
	"github.com/paladugusuresh/Graphrag/internal/audit"
	"github.com/paladugusuresh/Graphrag/internal/embedding"
	"github.com/paladugusuresh/Graphrag/internal/executor"
	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/guardrail"
	"github.com/paladugusuresh/Graphrag/internal/httpapi"
	"github.com/paladugusuresh/Graphrag/internal/llmclient"
	"github.com/paladugusuresh/Graphrag/internal/observability"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/planner"
	"github.com/paladugusuresh/Graphrag/internal/policy"
	"github.com/paladugusuresh/Graphrag/internal/querygen"
	"github.com/paladugusuresh/Graphrag/internal/ratelimit"
	"github.com/paladugusuresh/Graphrag/internal/retriever"
	"github.com/paladugusuresh/Graphrag/internal/schema"
	"github.com/paladugusuresh/Graphrag/internal/semanticmap"
	"github.com/paladugusuresh/Graphrag/internal/summariser"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("ragcore")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logCfg := logging.Config{Service: "ragcore", JSON: true}
	if dir := os.Getenv("RAGCORE_LOG_DIR"); dir != "" {
		logCfg.LogDir = dir
	}
	logger := logging.New(logCfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	pol := policy.FromEnv()
	if err := pol.Validate(); err != nil {
		log.Fatalf("invalid policy configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to set up OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	graphStoreURL := strings.Trim(os.Getenv("GRAPH_STORE_URL"), "\"' ")
	if graphStoreURL == "" {
		log.Fatal("GRAPH_STORE_URL must be set")
	}
	driver, err := neo4j.NewDriverWithContext(graphStoreURL, neo4j.BasicAuth(
		os.Getenv("GRAPH_STORE_USERNAME"), os.Getenv("GRAPH_STORE_PASSWORD"), ""))
	if err != nil {
		log.Fatalf("failed to create graph store driver: %v", err)
	}
	store, err := graphstore.New(driver, graphstore.Config{
		URI:      graphStoreURL,
		Username: os.Getenv("GRAPH_STORE_USERNAME"),
		Password: os.Getenv("GRAPH_STORE_PASSWORD"),
		Logger:   logger.Slog(),
	})
	if err != nil {
		log.Fatalf("failed to create resilient graph store: %v", err)
	}

	weaviateURL := strings.Trim(os.Getenv("VECTOR_STORE_URL"), "\"' ")
	if weaviateURL == "" {
		log.Fatal("VECTOR_STORE_URL must be set")
	}
	weaviateClient, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: weaviateURL})
	if err != nil {
		log.Fatalf("failed to create vector store client: %v", err)
	}

	var embeddingProvider embedding.Provider
	httpEmbeddingProvider, err := embedding.NewHTTPProvider()
	switch {
	case err == nil:
		embeddingProvider = httpEmbeddingProvider
	case os.Getenv("RAGCORE_ALLOW_DEV_EMBEDDING_STUB") == "true":
		slog.Warn("EMBEDDING_SERVICE_URL not set, falling back to the deterministic dev embedding stub", "error", err)
		embeddingProvider = embedding.NewStubProvider()
	default:
		log.Fatalf("failed to create embedding provider: %v", err)
	}

	llmClient, err := llmclient.NewFromEnv()
	if err != nil {
		log.Fatalf("failed to create LLM client: %v", err)
	}

	catalog := schema.New(store)
	if _, err := catalog.Refresh(context.Background()); err != nil {
		log.Fatalf("failed to bootstrap schema allow-list: %v", err)
	}

	embedder := schema.NewEmbedder(embeddingProvider, store)
	if err := embedder.Rebuild(context.Background(), catalog.Current(), nil); err != nil {
		slog.Warn("schema embedder bootstrap failed, semantic mapping degrades to substring fallback", "error", err)
	}

	guard, err := guardrail.New()
	if err != nil {
		log.Fatalf("failed to load guardrail patterns: %v", err)
	}

	mapper := semanticmap.New(embeddingProvider, embedder)
	pl := planner.New(llmClient, mapper)
	generator := querygen.New(llmClient)
	exec := executor.New(store)
	chunkIndex := retriever.NewWeaviateChunkIndex(weaviateClient)
	ret := retriever.New(embeddingProvider, chunkIndex, store)
	summ := summariser.New(llmClient)
	limiter := ratelimit.New(float64(pol.LLMRateLimitPerMinute), pol.LLMRateLimitPerMinute)

	auditPath := os.Getenv("RAGCORE_AUDIT_LOG_PATH")
	if auditPath == "" {
		auditPath = "ragcore_audit.jsonl"
	}
	sink, err := audit.NewFileSink(auditPath)
	if err != nil {
		log.Fatalf("failed to open audit log: %v", err)
	}
	defer sink.Close()

	metrics := observability.New()

	core := pipeline.New(catalog, guard, limiter, pl, generator, exec, ret, summ, sink, pol, metrics)

	admin := adminauth.New(os.Getenv("RAGCORE_ADMIN_TOKEN"), pol.Mode)

	router := gin.Default()
	router.Use(otelgin.Middleware("ragcore"))
	httpapi.SetupRoutes(router, core, catalog, admin)

	port := os.Getenv("RAGCORE_PORT")
	if port == "" {
		port = "8080"
	}

	slog.Info("ragcore starting", "port", port, "mode", pol.Mode)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

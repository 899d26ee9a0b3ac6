// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxSink mirrors per-batch and per-reconnection signals into InfluxDB,
// where operators can chart world growth over time. It is optional: a nil
// *InfluxSink is a valid no-op, so callers never branch on configuration.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInfluxSink connects to InfluxDB and verifies it answers health checks.
func NewInfluxSink(ctx context.Context, url, token, org, bucket string, logger *slog.Logger) (*InfluxSink, error) {
	if url == "" {
		return nil, fmt.Errorf("influx sink: empty URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(url, token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("influx unhealthy: %s %s", health.Status, msg)
	}

	logger.Info("Connected to InfluxDB", "url", url, "org", org, "bucket", bucket)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		logger: logger,
	}, nil
}

// RecordBatch mirrors one expansion batch attempt.
func (s *InfluxSink) RecordBatch(ctx context.Context, rootID, outcome string, accepted, rejected int, elapsed time.Duration) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint(
		"expansion_batches",
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"root":       rootID,
			"accepted":   accepted,
			"rejected":   rejected,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		time.Now().UTC(),
	)
	if err := s.write.WritePoint(ctx, p); err != nil {
		s.logger.Warn("Influx batch point dropped", "error", err)
	}
}

// RecordReconnection mirrors one reconnection search.
func (s *InfluxSink) RecordReconnection(ctx context.Context, outcome string, hops int, ratio float64, elapsed time.Duration) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint(
		"reconnections",
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"hops":           hops,
			"duration_ratio": ratio,
			"elapsed_ms":     elapsed.Milliseconds(),
		},
		time.Now().UTC(),
	)
	if err := s.write.WritePoint(ctx, p); err != nil {
		s.logger.Warn("Influx reconnection point dropped", "error", err)
	}
}

// Close releases the underlying client. Safe on nil.
func (s *InfluxSink) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}

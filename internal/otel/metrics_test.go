package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.PackBuildDuration == nil {
		t.Error("PackBuildDuration is nil")
	}
	if m.PackPressure == nil {
		t.Error("PackPressure is nil")
	}
	if m.TierEscalations == nil {
		t.Error("TierEscalations is nil")
	}
	if m.DigestDuration == nil {
		t.Error("DigestDuration is nil")
	}
	if m.DigestFallbacks == nil {
		t.Error("DigestFallbacks is nil")
	}
	if m.CommandDuration == nil {
		t.Error("CommandDuration is nil")
	}
	if m.TokensUsed == nil {
		t.Error("TokensUsed is nil")
	}
	if m.BlocksAppended == nil {
		t.Error("BlocksAppended is nil")
	}
	if m.AppendRejections == nil {
		t.Error("AppendRejections is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}

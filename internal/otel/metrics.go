package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all SENTINEL metrics instruments.
type Metrics struct {
	PackBuildDuration metric.Float64Histogram
	PackPressure      metric.Float64Histogram
	TierEscalations   metric.Int64Counter
	DigestDuration    metric.Float64Histogram
	DigestFallbacks   metric.Int64Counter
	CommandDuration   metric.Float64Histogram
	TokensUsed        metric.Int64Counter
	BlocksAppended    metric.Int64Counter
	AppendRejections  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PackBuildDuration, err = meter.Float64Histogram("sentinel.pack.build.duration",
		metric.WithDescription("Packer.Build duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PackPressure, err = meter.Float64Histogram("sentinel.pack.pressure",
		metric.WithDescription("Classified pressure ratio of the most recent build"),
	)
	if err != nil {
		return nil, err
	}

	m.TierEscalations, err = meter.Int64Counter("sentinel.strain.escalations",
		metric.WithDescription("Number of builds that escalated tier and re-planned once"),
	)
	if err != nil {
		return nil, err
	}

	m.DigestDuration, err = meter.Float64Histogram("sentinel.digest.update.duration",
		metric.WithDescription("Digest update duration in seconds, LLM or template path"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DigestFallbacks, err = meter.Int64Counter("sentinel.digest.fallbacks",
		metric.WithDescription("Times the digest update fell back from the LLM path to the template path"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("sentinel.command.duration",
		metric.WithDescription("checkpoint/compress/clear duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("sentinel.llm.tokens",
		metric.WithDescription("Total tokens consumed by digest LLM calls"),
	)
	if err != nil {
		return nil, err
	}

	m.BlocksAppended, err = meter.Int64Counter("sentinel.blocks.appended",
		metric.WithDescription("Total blocks appended to the transcript window"),
	)
	if err != nil {
		return nil, err
	}

	m.AppendRejections, err = meter.Int64Counter("sentinel.blocks.append_rejections",
		metric.WithDescription("Append attempts rejected for a non-monotonic block id"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

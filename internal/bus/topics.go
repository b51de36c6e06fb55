package bus

// Core lifecycle topics. Published by the packer/coordinator facade so the
// TUI and telemetry can observe strain transitions and command outcomes
// without the core depending on either.
const (
	// TopicTierChanged fires whenever a build's emitted tier differs from
	// the previous build's tier.
	TopicTierChanged = "core.tier_changed"

	// TopicCommandExecuted fires after checkpoint/compress/clear completes.
	TopicCommandExecuted = "core.command_executed"

	// TopicDigestFallback fires when the digest LLM path failed validation
	// or the call itself failed, and the template path took over.
	TopicDigestFallback = "core.digest_fallback"

	// TopicAppendRejected fires when append_block rejected a non-monotonic id.
	TopicAppendRejected = "core.append_rejected"
)

// TierChangedEvent describes a strain tier transition.
type TierChangedEvent struct {
	CampaignID string
	OldTier    string
	NewTier    string
	Pressure   float64
}

// CommandExecutedEvent describes the outcome of a CommandCoordinator command.
type CommandExecutedEvent struct {
	CampaignID string
	Command    string // "checkpoint", "compress", "clear"
	Err        string // empty on success
}

// DigestFallbackEvent describes why the LLM digest path gave up.
type DigestFallbackEvent struct {
	CampaignID string
	Reason     string
}

// AppendRejectedEvent describes a rejected non-monotonic append.
type AppendRejectedEvent struct {
	CampaignID string
	GotID      int64
	LastID     int64
}

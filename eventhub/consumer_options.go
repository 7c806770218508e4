package eventhub

// ConsumerLinkOptions configures how a consumer link is attached.
type ConsumerLinkOptions struct {
	// Identifier labels the link for broker-side diagnostics. Attached as
	// a link property when non-empty.
	Identifier string

	// OwnerLevel, when set, requests exclusive ownership of the partition;
	// the broker disconnects lower-level readers of the same partition.
	OwnerLevel *int64

	// PrefetchCount is the flow-control credit granted to the broker.
	PrefetchCount uint32

	// TrackLastEnqueuedEventInformation asks the broker to include
	// partition runtime metrics with each delivered event.
	TrackLastEnqueuedEventInformation bool
}

func defaultConsumerLinkOptions() ConsumerLinkOptions {
	return ConsumerLinkOptions{
		PrefetchCount: 300,
	}
}

func normalizeConsumerLinkOptions(options *ConsumerLinkOptions) ConsumerLinkOptions {
	normalized := *options
	defaults := defaultConsumerLinkOptions()
	if normalized.PrefetchCount == 0 {
		normalized.PrefetchCount = defaults.PrefetchCount
	}
	return normalized
}

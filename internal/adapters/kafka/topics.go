package kafka

// Topic definitions for the ingestion stream
const (
	// Provider market snapshots: one message per provider fetch, carrying a
	// JSON array of per-currency metric entries. KAFKA_SNAPSHOT_TOPIC
	// overrides the default.
	TopicMarketSnapshots = "market.snapshots"
)

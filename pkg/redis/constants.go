package redis

// Redis namespaces defines the top-level key prefixes for different types of data
const (
	NamespaceChat = "chat" // Chat fan-out coordination data
)

// Redis contexts defines the second-level key prefixes for specific domains
const (
	ContextSequence     = "sequence"     // Per-room message ordering counters
	ContextSubscription = "subscription" // Per-server room subscription directories
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesPublished tracks envelopes published to the bus per room
	EnvelopesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_published_total",
			Help: "Total number of envelopes published to the broadcast bus by room",
		},
		[]string{"room"},
	)

	// EnvelopesReceived tracks envelopes received from the bus by outcome
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_received_total",
			Help: "Total number of envelopes received from the broadcast bus by outcome",
		},
		[]string{"outcome"},
	)

	// LocalDeliveries tracks messages written to local connections
	LocalDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_local_deliveries_total",
			Help: "Total number of messages delivered to local connections",
		},
	)

	// DeliveryFailures tracks per-connection write failures during fan-out
	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Total number of failed writes to local connections",
		},
	)

	// ActiveConnections tracks the number of open client connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of open client connections on this server",
		},
	)

	// SubscribedRooms tracks the number of rooms this server listens to on the bus
	SubscribedRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_subscribed_rooms",
			Help: "Number of rooms this server is subscribed to on the broadcast bus",
		},
	)

	// DedupLedgerSize tracks the current size of the dedup ledger
	DedupLedgerSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_dedup_ledger_size",
			Help: "Number of envelope ids currently held in the dedup ledger",
		},
	)
)

// Received outcome label values.
const (
	OutcomeDelivered = "delivered"
	OutcomeDuplicate = "duplicate"
	OutcomeSelfEcho  = "self_echo"
	OutcomeMalformed = "malformed"
)

// Package metrics holds the node's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Transactions
	// ============================================
	TxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vb_tx_total",
			Help: "Delivered instructions by method and result",
		},
		[]string{"method", "result"},
	)

	TxRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vb_tx_rejected_total",
			Help: "Transactions rejected before execution, by stage",
		},
		[]string{"stage"},
	)

	// ============================================
	// Ledger
	// ============================================
	VaultAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vb_vault_amount",
		Help: "Vault balance recorded in the bridge state, in base units",
	})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vb_block_height",
		Help: "Last committed block height",
	})

	// ============================================
	// Event delivery
	// ============================================
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vb_events_published_total",
			Help: "Bridge events handed to a sink",
		},
		[]string{"sink"},
	)

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vb_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})
)

// Rejection stages for TxRejected.
const (
	StageDecode    = "decode"
	StageSignature = "signature"
	StageReplay    = "replay"
	StageCheck     = "check"
)

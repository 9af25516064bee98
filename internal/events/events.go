// Package events carries bridge program events out of the node once their
// block has committed: to NATS JetStream for the paired chain's relayer and
// to websocket subscribers of the API.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vaultbridge.mini/vb/internal/metrics"
)

// Envelope is one event as published. TxHash is the transaction id, the
// hash of its signed payload. Index is the event's position in its
// transaction.
type Envelope struct {
	Height int64           `json:"height"`
	TxHash string          `json:"tx_hash"`
	Index  int             `json:"index"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data"`
}

// ID identifies an envelope across redeliveries.
func (e Envelope) ID() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.Index)
}

// Sink receives committed events in block order.
type Sink interface {
	Name() string
	Publish(ctx context.Context, batch []Envelope) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Name() string                              { return "nop" }
func (Nop) Publish(context.Context, []Envelope) error { return nil }

// Fanout hands every batch to each sink. A failing sink does not stop the
// others; their errors are joined.
type Fanout []Sink

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Publish(ctx context.Context, batch []Envelope) error {
	if len(batch) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.Name()).Add(float64(len(batch)))
	}
	return errors.Join(errs...)
}

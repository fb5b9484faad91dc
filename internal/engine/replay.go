package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/reconcile"
	"github.com/roach88/tripsync/internal/trip"
)

// Replay rebuilds a trip from snap and journaled records.
//
// Records must be in ascending seq order, as journal.ReadTrip returns them.
// Only inbound records of snap's trip are applied; outbound records are
// skipped because their effect reached the store before they were sent.
// Nothing is sent while replaying, so a create that was reaped live is not
// reaped again.
//
// The returned Applied list has one entry per applied record. A record that
// cannot be decoded is reported with Err set and skipped.
func Replay(ctx context.Context, snap model.Snapshot, records []journal.Record, logger *slog.Logger) (*trip.Store, []Applied, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := trip.New(nil, trip.WithLogger(logger))
	store.Load(snap.Plan, snap.Days)
	listener := reconcile.New(store, nil, logger)

	tripID := snap.Plan.DurableID
	applied := []Applied{}
	var last int64
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if rec.Seq <= last {
			return nil, nil, fmt.Errorf("replay trip %d: record seq %d after %d", tripID, rec.Seq, last)
		}
		last = rec.Seq
		if rec.TripID != tripID || rec.Direction != journal.Inbound {
			continue
		}

		env, err := model.DecodeEnvelope(rec.Body)
		if err != nil {
			logger.Warn("skipping undecodable journal record", "trip_id", tripID, "seq", rec.Seq, "error", err)
			applied = append(applied, Applied{Seq: rec.Seq, Type: EventTypeBroadcast, TripID: tripID, Err: err})
			continue
		}
		applied = append(applied, Applied{
			Seq:     rec.Seq,
			Type:    EventTypeBroadcast,
			TripID:  tripID,
			Entity:  env.Entity,
			Action:  env.Action,
			Results: listener.OnInboundEvent(ctx, env),
		})
	}
	return store, applied, nil
}

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tripsync/internal/model"
)

// Record is one journaled envelope.
type Record struct {
	TripID    int64
	Seq       int64
	Direction Direction
	Entity    model.Target
	Action    model.Action
	EventID   string
	Body      []byte
}

// NewRecord builds a record from a decoded envelope and its wire bytes.
func NewRecord(tripID, seq int64, dir Direction, env model.Envelope, body []byte) Record {
	return Record{
		TripID:    tripID,
		Seq:       seq,
		Direction: dir,
		Entity:    env.Entity,
		Action:    env.Action,
		EventID:   env.EventID,
		Body:      body,
	}
}

// Append writes rec. A second record with the same (trip, seq) is ignored.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO envelopes (trip_id, seq, direction, entity, action, event_id, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trip_id, seq) DO NOTHING
	`,
		rec.TripID,
		rec.Seq,
		string(rec.Direction),
		string(rec.Entity),
		string(rec.Action),
		rec.EventID,
		string(rec.Body),
	)
	if err != nil {
		return fmt.Errorf("append envelope %d/%d: %w", rec.TripID, rec.Seq, err)
	}
	return nil
}

// ReadTrip returns every record of a trip ordered by seq.
// Returns an empty slice, not nil, if there are none.
func (j *Journal) ReadTrip(ctx context.Context, tripID int64) ([]Record, error) {
	return j.query(ctx, `
		SELECT trip_id, seq, direction, entity, action, event_id, body
		FROM envelopes
		WHERE trip_id = ?
		ORDER BY seq ASC
	`, tripID)
}

// ReadInboundAfter returns a trip's inbound records with seq > after.
func (j *Journal) ReadInboundAfter(ctx context.Context, tripID, after int64) ([]Record, error) {
	return j.query(ctx, `
		SELECT trip_id, seq, direction, entity, action, event_id, body
		FROM envelopes
		WHERE trip_id = ? AND direction = 'in' AND seq > ?
		ORDER BY seq ASC
	`, tripID, after)
}

// LastSeq returns the highest seq across all trips, or 0 for an empty
// journal. Clocks resume from it so seq stays unique.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM envelopes
			UNION ALL
			SELECT seq FROM snapshots
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// SaveSnapshot stores the snapshot a trip's log starts from, replacing any
// previous one.
func (j *Journal) SaveSnapshot(ctx context.Context, tripID, seq int64, body []byte) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO snapshots (trip_id, seq, body) VALUES (?, ?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET seq = excluded.seq, body = excluded.body
	`, tripID, seq, string(body))
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", tripID, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of a trip and the seq it was
// taken at. found is false if none was saved.
func (j *Journal) LoadSnapshot(ctx context.Context, tripID int64) (seq int64, body []byte, found bool, err error) {
	var text string
	err = j.db.QueryRowContext(ctx, `
		SELECT seq, body FROM snapshots WHERE trip_id = ?
	`, tripID).Scan(&seq, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("load snapshot %d: %w", tripID, err)
	}
	return seq, []byte(text), true, nil
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec                       Record
			dir, entity, action, body string
		)
		if err := rows.Scan(&rec.TripID, &rec.Seq, &dir, &entity, &action, &rec.EventID, &body); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		rec.Direction = Direction(dir)
		rec.Entity = model.Target(entity)
		rec.Action = model.Action(action)
		rec.Body = []byte(body)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return records, nil
}

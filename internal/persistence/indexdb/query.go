package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

// Reader runs the admin queries against an index file. It does not start a
// writer and can be opened while a server is writing.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type Filter struct {
	Requester string
	World     string
	Phase     alloc.Phase
	Limit     int
}

// Events returns matching events, newest first.
func (r *Reader) Events(ctx context.Context, f Filter) ([]alloc.Event, error) {
	q := `SELECT raw_json FROM allocation_events WHERE 1=1`
	var args []any
	if f.Requester != "" {
		q += ` AND requester = ?`
		args = append(args, f.Requester)
	}
	if f.World != "" {
		q += ` AND world = ?`
		args = append(args, f.World)
	}
	if f.Phase != "" {
		q += ` AND phase = ?`
		args = append(args, string(f.Phase))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alloc.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev alloc.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PhaseCounts counts events per phase, optionally for one world.
func (r *Reader) PhaseCounts(ctx context.Context, world string) (map[alloc.Phase]int, error) {
	q := `SELECT phase, COUNT(*) FROM allocation_events`
	var args []any
	if world != "" {
		q += ` WHERE world = ?`
		args = append(args, world)
	}
	q += ` GROUP BY phase`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[alloc.Phase]int{}
	for rows.Next() {
		var (
			phase string
			n     int
		)
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, err
		}
		out[alloc.Phase(phase)] = n
	}
	return out, rows.Err()
}

// FailureKeys counts failed and aborted allocations by player message key.
func (r *Reader) FailureKeys(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT COALESCE(message_key,''), COUNT(*) FROM allocation_events WHERE phase IN ('failed','aborted') GROUP BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CoreyShupe/BentoBox/internal/alloc"
)

// SQLiteIndex is a secondary, queryable index of allocation events. The
// JSONL event log stays the source of truth; the index drops events rather
// than stall an allocation when its writer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan alloc.Event
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan alloc.Event, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS allocation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			phase TEXT NOT NULL,
			reason TEXT NOT NULL,
			requester TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			plot_id TEXT,
			old_plot_id TEXT,
			found INTEGER NOT NULL,
			blocked INTEGER NOT NULL,
			error TEXT,
			message_key TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_requester ON allocation_events(requester, id);`,
		`CREATE INDEX IF NOT EXISTS idx_alloc_world_phase ON allocation_events(world, phase);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// OnAllocationEvent queues ev for the writer. It never blocks and never
// asks the allocator to abort.
func (s *SQLiteIndex) OnAllocationEvent(ctx context.Context, ev alloc.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insert, _ := s.db.Prepare(insertEventSQL)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for ev := range s.ch {
		begin()
		if tx == nil || insert == nil {
			continue
		}
		if err := insertEvent(tx.Stmt(insert), ev); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

const insertEventSQL = `INSERT INTO allocation_events(seq,at,phase,reason,requester,world,x,y,z,plot_id,old_plot_id,found,blocked,error,message_key,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func insertEvent(stmt *sql.Stmt, ev alloc.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		int64(ev.Seq),
		ev.Time.UTC().Format(time.RFC3339Nano),
		string(ev.Phase),
		string(ev.Reason),
		ev.Requester.String(),
		ev.World,
		ev.Pos[0], ev.Pos[1], ev.Pos[2],
		nullable(ev.PlotID),
		nullable(ev.OldPlotID),
		ev.Found,
		ev.Blocked,
		nullable(ev.Error),
		nullable(ev.MessageKey),
		string(raw),
	)
	return err
}

// Import writes evs in one transaction, bypassing the queue. Used to rebuild
// an index from the event logs.
func (s *SQLiteIndex) Import(ctx context.Context, evs []alloc.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range evs {
		if err := insertEvent(stmt, ev); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("event seq=%d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package drivelog records simulation runs: a queryable SQLite index of
// runs and world events, and compressed JSONL motion traces.
package drivelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/milk9111/drivesim/ecs"
)

var ErrClosed = errors.New("drivelog: closed")

const (
	queueSize = 65536
	batchSize = 512
)

// Run is one row of the runs table.
type Run struct {
	ID         int64
	Scene      string
	StartedAt  time.Time
	FinishedAt time.Time
	Ticks      uint64
	Elapsed    float64
	Status     string
}

// EventRow is one recorded world event.
type EventRow struct {
	RunID  int64
	Seq    int64
	Tick   uint64
	Time   float64
	Type   string
	Entity uint64
	Name   string
	Data   string
}

type reqKind int

const (
	reqBegin reqKind = iota + 1
	reqEnd
	reqEvent
	reqSync
)

type req struct {
	kind  reqKind
	run   Run
	event EventRow
	reply chan reply
}

type reply struct {
	id  int64
	err error
}

// SQLiteLog writes through a single goroutine. Events are queued without
// blocking and dropped if the writer falls behind.
type SQLiteLog struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once
	mu   sync.RWMutex

	closed  atomic.Bool
	dropped atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteLog, error) {
	if path == "" {
		return nil, fmt.Errorf("drivelog: empty db path")
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
		return nil, fmt.Errorf("drivelog: pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("drivelog: schema: %w", err)
	}

	l := &SQLiteLog{db: db, ch: make(chan req, queueSize)}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
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
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scene TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL DEFAULT '',
			ticks INTEGER NOT NULL DEFAULT 0,
			elapsed REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'running'
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id INTEGER NOT NULL REFERENCES runs(id),
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			sim_time REAL NOT NULL,
			type TEXT NOT NULL,
			entity INTEGER NOT NULL,
			name TEXT NOT NULL,
			data_json TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS events_by_type ON events(run_id, type, name);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (l *SQLiteLog) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		close(l.ch)
		l.mu.Unlock()
		l.wg.Wait()
		err = l.db.Close()
	})
	return err
}

// Dropped returns how many events were discarded under backpressure.
func (l *SQLiteLog) Dropped() uint64 {
	return l.dropped.Load()
}

// BeginRun inserts a run row and returns its id.
func (l *SQLiteLog) BeginRun(ctx context.Context, scene string) (int64, error) {
	return l.call(ctx, req{kind: reqBegin, run: Run{Scene: scene, StartedAt: time.Now().UTC()}})
}

// EndRun marks a run finished. It is queued behind the run's events.
func (l *SQLiteLog) EndRun(ctx context.Context, id int64, ticks uint64, elapsed float64, status string) error {
	_, err := l.call(ctx, req{kind: reqEnd, run: Run{
		ID:         id,
		FinishedAt: time.Now().UTC(),
		Ticks:      ticks,
		Elapsed:    elapsed,
		Status:     status,
	}})
	return err
}

// WriteEvent queues evt for run id. It never blocks.
func (l *SQLiteLog) WriteEvent(id int64, tick uint64, simTime float64, evt ecs.Event) {
	if l == nil {
		return
	}
	data := ""
	if evt.Data != nil {
		if b, err := json.Marshal(evt.Data); err == nil {
			data = string(b)
		}
	}
	row := EventRow{
		RunID:  id,
		Tick:   tick,
		Time:   simTime,
		Type:   string(evt.Type),
		Entity: uint64(evt.Entity),
		Name:   evt.Name,
		Data:   data,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed.Load() {
		return
	}
	select {
	case l.ch <- req{kind: reqEvent, event: row}:
	default:
		l.dropped.Add(1)
	}
}

// Sync waits until every write queued before it is committed.
func (l *SQLiteLog) Sync(ctx context.Context) error {
	_, err := l.call(ctx, req{kind: reqSync})
	return err
}

func (l *SQLiteLog) call(ctx context.Context, r req) (int64, error) {
	r.reply = make(chan reply, 1)

	l.mu.RLock()
	if l.closed.Load() {
		l.mu.RUnlock()
		return 0, ErrClosed
	}
	select {
	case l.ch <- r:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return 0, ctx.Err()
	}

	select {
	case out := <-r.reply:
		return out.id, out.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Runs lists recorded runs, newest first.
func (l *SQLiteLog) Runs(ctx context.Context) ([]Run, error) {
	if err := l.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `SELECT id, scene, started_at, finished_at, ticks, elapsed, status FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Scene, &started, &finished, &r.Ticks, &r.Elapsed, &r.Status); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the events of run id in the order they were written.
func (l *SQLiteLog) Events(ctx context.Context, id int64) ([]EventRow, error) {
	if err := l.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, seq, tick, sim_time, type, entity, name, data_json FROM events WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Tick, &r.Time, &r.Type, &r.Entity, &r.Name, &r.Data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) loop() {
	ctx := context.Background()
	seqs := make(map[int64]int64)

	for first := range l.ch {
		batch := []req{first}
	fill:
		for len(batch) < batchSize {
			select {
			case r, ok := <-l.ch:
				if !ok {
					break fill
				}
				batch = append(batch, r)
			default:
				break fill
			}
		}
		l.apply(ctx, batch, seqs)
	}
}

// apply writes a batch in one transaction. Replies are sent after commit so
// a caller that got one can read its own writes.
func (l *SQLiteLog) apply(ctx context.Context, batch []req, seqs map[int64]int64) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		for _, r := range batch {
			respond(r, 0, err)
		}
		return
	}

	results := make([]reply, len(batch))
	for i, r := range batch {
		switch r.kind {
		case reqBegin:
			res, err := tx.ExecContext(ctx, `INSERT INTO runs(scene, started_at) VALUES(?, ?)`,
				r.run.Scene, r.run.StartedAt.Format(time.RFC3339Nano))
			if err != nil {
				results[i].err = err
				continue
			}
			results[i].id, results[i].err = res.LastInsertId()
		case reqEnd:
			_, results[i].err = tx.ExecContext(ctx, `UPDATE runs SET finished_at = ?, ticks = ?, elapsed = ?, status = ? WHERE id = ?`,
				r.run.FinishedAt.Format(time.RFC3339Nano), r.run.Ticks, r.run.Elapsed, r.run.Status, r.run.ID)
		case reqEvent:
			seqs[r.event.RunID]++
			e := r.event
			_, results[i].err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO events(run_id, seq, tick, sim_time, type, entity, name, data_json) VALUES(?,?,?,?,?,?,?,?)`,
				e.RunID, seqs[e.RunID], e.Tick, e.Time, e.Type, e.Entity, e.Name, e.Data)
		case reqSync:
		}
	}

	if err := tx.Commit(); err != nil {
		for _, r := range batch {
			respond(r, 0, err)
		}
		return
	}
	for i, r := range batch {
		respond(r, results[i].id, results[i].err)
	}
}

func respond(r req, id int64, err error) {
	if r.reply == nil {
		return
	}
	r.reply <- reply{id: id, err: err}
}

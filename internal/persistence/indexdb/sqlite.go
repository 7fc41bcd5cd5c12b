package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of chunk saves. Chunk files
// remain the source of truth; rows may be dropped if the writer falls behind.
type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan world.ChunkSaveEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTotal  atomic.Uint64
	writeTotal atomic.Uint64
	failTotal  atomic.Uint64
}

// SaveRow is one indexed chunk save.
type SaveRow struct {
	CX      int    `json:"cx"`
	CZ      int    `json:"cz"`
	Seed    int64  `json:"seed"`
	Path    string `json:"path"`
	Blocks  int    `json:"blocks"`
	Digest  string `json:"digest"`
	Tick    uint64 `json:"tick"`
	Reason  string `json:"reason"`
	SavedAt string `json:"saved_at"`
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
	WriteTotal    uint64 `json:"write_total"`
	FailTotal     uint64 `json:"fail_total"`
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = zap.NewNop()
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
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan world.ChunkSaveEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
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
		`CREATE TABLE IF NOT EXISTS chunk_saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			path TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			digest TEXT NOT NULL,
			tick INTEGER NOT NULL,
			reason TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_saves_pos ON chunk_saves(seed, cx, cz, id);`,
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

// RecordSave queues a row without blocking the caller.
func (s *SQLiteIndex) RecordSave(e world.ChunkSaveEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropTotal.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
		WriteTotal:    s.writeTotal.Load(),
		FailTotal:     s.failTotal.Load(),
	}
}

// SetMeta records a key/value pair (world seed, palette digest, ...).
func (s *SQLiteIndex) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

const selectCols = `cx,cz,seed,path,blocks,digest,tick,reason,saved_at`

func scanRow(sc interface{ Scan(...any) error }) (SaveRow, error) {
	var r SaveRow
	var tick int64
	err := sc.Scan(&r.CX, &r.CZ, &r.Seed, &r.Path, &r.Blocks, &r.Digest, &tick, &r.Reason, &r.SavedAt)
	r.Tick = uint64(tick)
	return r, err
}

// Latest returns the most recent save of one chunk.
func (s *SQLiteIndex) Latest(ctx context.Context, seed int64, cx, cz int) (SaveRow, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM chunk_saves WHERE seed=? AND cx=? AND cz=? ORDER BY id DESC LIMIT 1`,
		seed, cx, cz)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveRow{}, false, nil
	}
	if err != nil {
		return SaveRow{}, false, err
	}
	return r, true, nil
}

// List returns the newest saves first.
func (s *SQLiteIndex) List(ctx context.Context, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM chunk_saves ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT INTO chunk_saves(` + selectCols + `) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("indexdb prepare failed", zap.Error(err))
		for range s.ch {
			s.failTotal.Add(1)
		}
		return
	}
	defer insert.Close()

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
		if err := tx.Commit(); err != nil {
			s.failTotal.Add(uint64(opCount))
			s.log.Warn("indexdb commit failed", zap.Error(err))
		} else {
			s.writeTotal.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		begin()
		if tx == nil {
			s.failTotal.Add(1)
			continue
		}
		_, err := tx.Stmt(insert).Exec(
			e.Key.CX, e.Key.CZ, e.Seed, e.Path, e.Blocks, e.Digest,
			int64(e.Tick), e.Reason, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			s.failTotal.Add(1)
			s.log.Warn("indexdb insert failed", zap.Stringer("chunk", e.Key), zap.Error(err))
			continue
		}
		opCount++
		// Flush eagerly once the queue is idle so readers see recent saves.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

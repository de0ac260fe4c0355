package profile

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/gigfork/kahlua2/sampler"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sampler_id TEXT    NOT NULL,
	time_ns    INTEGER NOT NULL,
	period_ns  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS frames (
	sample_id    INTEGER NOT NULL REFERENCES samples(id),
	depth        INTEGER NOT NULL,
	function     TEXT    NOT NULL,
	native       INTEGER NOT NULL,
	name         TEXT    NOT NULL,
	source       TEXT    NOT NULL,
	line_defined INTEGER NOT NULL,
	line         INTEGER NOT NULL,
	pc           INTEGER NOT NULL,
	PRIMARY KEY (sample_id, depth)
);
CREATE INDEX IF NOT EXISTS frames_function ON frames(function);
CREATE INDEX IF NOT EXISTS samples_sampler ON samples(sampler_id);
`

// Store keeps records in a SQLite database so that runs can be compared
// and queried later.
type Store struct {
	db     *sql.DB
	log    commonlog.Logger
	failed atomic.Uint64
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening profile database: %w", err)
	}
	// Samples arrive from one goroutine; a single connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating profile tables: %w", err)
	}
	return &Store{db: db, log: commonlog.GetLogger("kahlua.profile")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReceiveSample implements sampler.Sink. Failed inserts are logged and
// counted, see Failed.
func (s *Store) ReceiveSample(smp sampler.Sample) {
	if _, err := s.Insert(context.Background(), NewRecord(smp)); err != nil {
		s.failed.Add(1)
		s.log.Errorf("storing sample: %v", err)
	}
}

// Failed returns the number of samples ReceiveSample could not store.
func (s *Store) Failed() uint64 { return s.failed.Load() }

// Insert stores rec and returns its row id.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO samples (sampler_id, time_ns, period_ns) VALUES (?, ?, ?)`,
		rec.SamplerID, rec.TimeNanos, rec.PeriodNanos)
	if err != nil {
		return 0, fmt.Errorf("inserting sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(rec.Frames) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames
			(sample_id, depth, function, native, name, source, line_defined, line, pc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for depth, f := range rec.Frames {
			if _, err := stmt.ExecContext(ctx, id, depth, f.Function(), f.Native,
				f.Name, f.Source, f.LineDefined, f.Line, f.PC); err != nil {
				return 0, fmt.Errorf("inserting frame %d: %w", depth, err)
			}
		}
	}
	return id, tx.Commit()
}

// Records returns the stored records in insertion order. An empty
// samplerID selects every sampler.
func (s *Store) Records(ctx context.Context, samplerID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.sampler_id, s.time_ns, s.period_ns,
		       f.native, f.name, f.source, f.line_defined, f.line, f.pc
		FROM samples s LEFT JOIN frames f ON f.sample_id = s.id
		WHERE ? = '' OR s.sampler_id = ?
		ORDER BY s.id, f.depth`, samplerID, samplerID)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var records []Record
	lastID := int64(-1)
	for rows.Next() {
		var (
			id                        int64
			rec                       Record
			native                    sql.NullBool
			name, source              sql.NullString
			lineDefined, line, pcNull sql.NullInt64
		)
		if err := rows.Scan(&id, &rec.SamplerID, &rec.TimeNanos, &rec.PeriodNanos,
			&native, &name, &source, &lineDefined, &line, &pcNull); err != nil {
			return nil, err
		}
		if id != lastID {
			records = append(records, rec)
			lastID = id
		}
		if !native.Valid {
			continue
		}
		cur := &records[len(records)-1]
		cur.Frames = append(cur.Frames, FrameRecord{
			Native:      native.Bool,
			Name:        name.String,
			Source:      source.String,
			LineDefined: int(lineDefined.Int64),
			Line:        int(line.Int64),
			PC:          int(pcNull.Int64),
		})
	}
	return records, rows.Err()
}

// Samplers lists the sampler ids present in the store.
func (s *Store) Samplers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sampler_id FROM samples ORDER BY sampler_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TopFunctions computes per-function self and total counts in SQL, hottest
// first, limited to n rows when n > 0.
func (s *Store) TopFunctions(ctx context.Context, n int) ([]FunctionStat, error) {
	limit := -1
	if n > 0 {
		limit = n
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT function, MAX(native),
		       SUM(CASE WHEN depth = 0 THEN 1 ELSE 0 END) AS self,
		       COUNT(DISTINCT sample_id) AS total
		FROM frames
		GROUP BY function
		ORDER BY self DESC, total DESC, function ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()

	var stats []FunctionStat
	for rows.Next() {
		var st FunctionStat
		if err := rows.Scan(&st.Function, &st.Native, &st.Self, &st.Total); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

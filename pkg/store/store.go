// Package store persists simulation traces in SQLite.
//
// A trace is a list of runs, each with the observations recorded at its
// observable instants: one row per level, with the bounds of the state
// published for it, its population and its pending influences. The database
// runs in WAL mode so that a trace can be tailed while a simulation writes it.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	_ "modernc.org/sqlite"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/model"
)

// timeLayout is a fixed-width RFC 3339 layout, so that stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned for operations on an unknown run.
var ErrRunNotFound = ierrors.New("run not found")

// Run is a simulation run recorded in the trace.
type Run struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	FinalTime clock.Time `json:"final_time"`
	Rounds    int        `json:"rounds"`
	Error     string     `json:"error,omitempty"`
}

// ObservationKind tells which notification an observation was recorded at.
type ObservationKind string

const (
	KindInitial ObservationKind = "initial"
	KindPartial ObservationKind = "partial"
	KindFinal   ObservationKind = "final"
	KindAbort   ObservationKind = "abort"
)

// Observation is the state of one level at an observable instant.
type Observation struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Kind       ObservationKind `json:"kind"`
	Time       clock.Time      `json:"time"`
	Level      model.LevelID   `json:"level"`
	Consistent bool            `json:"consistent"`
	Lower      clock.Time      `json:"lower"`
	Upper      clock.Time      `json:"upper"`
	Agents     int             `json:"agents"`
	Backlog    int             `json:"backlog"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store manages the trace database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.Wrap(err, "open db")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, ierrors.Wrap(err, "migrate")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention runs a write with the default retry policy.
func retryOnContention(ctx context.Context, fn func() error) error {
	return retryOp(ctx, defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		outcome    TEXT,
		final_time INTEGER NOT NULL DEFAULT 0,
		rounds     INTEGER NOT NULL DEFAULT 0,
		error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS observations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES runs(id),
		kind        TEXT NOT NULL,
		time        INTEGER NOT NULL,
		level       TEXT NOT NULL,
		consistent  INTEGER NOT NULL,
		lower       INTEGER NOT NULL,
		upper       INTEGER NOT NULL,
		agents      INTEGER NOT NULL DEFAULT 0,
		backlog     INTEGER NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_observations_run_time ON observations(run_id, time, level);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id, name string) (*Run, error) {
	now := time.Now().UTC()
	err := retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
			id, name, now.Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return nil, ierrors.Wrapf(err, "begin run %s", id)
	}
	return &Run{ID: id, Name: name, StartedAt: now}, nil
}

// EndRun records how a run ended. errMsg is empty for runs without error.
func (s *Store) EndRun(ctx context.Context, id, outcome string, final clock.Time, rounds int, errMsg string) error {
	now := time.Now().UTC().Format(timeLayout)
	var affected int64
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET ended_at = ?, outcome = ?, final_time = ?, rounds = ?, error = NULLIF(?, '')
			 WHERE id = ?`,
			now, outcome, int64(final), rounds, errMsg, id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return ierrors.Wrapf(err, "end run %s", id)
	}
	if affected == 0 {
		return ierrors.Wrapf(ErrRunNotFound, "end run %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, name, started_at, COALESCE(ended_at,''), COALESCE(outcome,''),
		        final_time, rounds, COALESCE(error,'')
		 FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if ierrors.Is(err, sql.ErrNoRows) {
		return nil, ierrors.Wrapf(ErrRunNotFound, "run %s", id)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, name, started_at, COALESCE(ended_at,''), COALESCE(outcome,''),
		        final_time, rounds, COALESCE(error,'')
		 FROM runs ORDER BY started_at DESC, id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var startedStr, endedStr string
	var final int64
	if err := row.Scan(&r.ID, &r.Name, &startedStr, &endedStr, &r.Outcome, &final, &r.Rounds, &r.Error); err != nil {
		return nil, err
	}
	r.FinalTime = clock.Time(final)

	var parseErr error
	r.StartedAt, parseErr = time.Parse(timeLayout, startedStr)
	if parseErr != nil {
		return nil, ierrors.Wrapf(parseErr, "parse started_at for run %s", r.ID)
	}
	if endedStr != "" {
		ended, err := time.Parse(timeLayout, endedStr)
		if err != nil {
			return nil, ierrors.Wrapf(err, "parse ended_at for run %s", r.ID)
		}
		r.EndedAt = &ended
	}
	return &r, nil
}

// ---------------------------------------------------------------------------
// Observations
// ---------------------------------------------------------------------------

// InsertObservations appends the observations of one instant atomically.
func (s *Store) InsertObservations(ctx context.Context, obs []Observation) error {
	if len(obs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(timeLayout)

	return retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return ierrors.Wrap(err, "begin tx")
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO observations (run_id, kind, time, level, consistent, lower, upper, agents, backlog, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range obs {
			if _, err := stmt.ExecContext(ctx,
				o.RunID, string(o.Kind), int64(o.Time), string(o.Level), boolToInt(o.Consistent),
				int64(o.Lower), int64(o.Upper), o.Agents, o.Backlog, now,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListObservations returns the observations of a run recorded at or after
// since, ordered by time then level.
func (s *Store) ListObservations(runID string, since clock.Time, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT id, run_id, kind, time, level, consistent, lower, upper, agents, backlog, recorded_at
		 FROM observations WHERE run_id = ? AND time >= ?
		 ORDER BY time ASC, level ASC, id ASC LIMIT ?`,
		runID, int64(since), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListObservationsSinceID returns the observations with row ID > sinceID,
// in insertion order. Used to tail a trace.
func (s *Store) ListObservationsSinceID(runID string, sinceID int64, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT id, run_id, kind, time, level, consistent, lower, upper, agents, backlog, recorded_at
		 FROM observations WHERE run_id = ? AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		runID, sinceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// CountObservations returns the number of observations of a run.
func (s *Store) CountObservations(runID string) int64 {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM observations WHERE run_id = ?`, runID).Scan(&count); err != nil {
		return 0
	}
	return count
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var obs []Observation
	for rows.Next() {
		var (
			o                        Observation
			kind, level, recordedStr string
			t, lower, upper          int64
			consistent               int
		)
		if err := rows.Scan(&o.ID, &o.RunID, &kind, &t, &level, &consistent,
			&lower, &upper, &o.Agents, &o.Backlog, &recordedStr); err != nil {
			return nil, err
		}
		o.Kind = ObservationKind(kind)
		o.Level = model.LevelID(level)
		o.Time, o.Lower, o.Upper = clock.Time(t), clock.Time(lower), clock.Time(upper)
		o.Consistent = consistent != 0

		var parseErr error
		o.RecordedAt, parseErr = time.Parse(timeLayout, recordedStr)
		if parseErr != nil {
			return nil, ierrors.Wrapf(parseErr, "parse recorded_at for observation %d", o.ID)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

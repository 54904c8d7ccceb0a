package dsdb

import (
	"context"
	"database/sql"

	"github.com/nikandfor/errors"
	_ "modernc.org/sqlite"

	"ttadse/internal/arch"
)

// SQLite is the on-disk exploration database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" works for
// a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open %v", path)
	}
	// a :memory: database lives as long as its connection
	db.SetMaxOpenConns(1)

	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func initDB(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS architecture(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			hash TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS configuration(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			architecture INTEGER NOT NULL REFERENCES architecture(id),
			implementation INTEGER NOT NULL DEFAULT 0,
			has_implementation INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS workload(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_count(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workload INTEGER NOT NULL REFERENCES workload(id),
			architecture INTEGER NOT NULL REFERENCES architecture(id),
			cycles INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS cycle_count_arch ON cycle_count(architecture)`,
		`CREATE INDEX IF NOT EXISTS architecture_hash ON architecture(hash)`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

func (s *SQLite) Configuration(ctx context.Context, id RowID) (c Configuration, err error) {
	var hasImpl int
	err = s.db.QueryRowContext(ctx,
		"SELECT architecture, implementation, has_implementation FROM configuration WHERE id = ?", id).
		Scan(&c.ArchitectureID, &c.ImplementationID, &hasImpl)
	if errors.Is(err, sql.ErrNoRows) {
		return c, errors.Wrap(ErrNotFound, "configuration %d", id)
	}
	if err != nil {
		return c, errors.Wrap(err, "configuration %d", id)
	}
	c.HasImplementation = hasImpl != 0
	return c, nil
}

func (s *SQLite) Architecture(ctx context.Context, id RowID) (*arch.Graph, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM architecture WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, "architecture %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "architecture %d", id)
	}
	g, err := arch.Decode(data)
	if err != nil {
		return nil, errors.Wrap(ErrCorrupt, "architecture %d: %v", id, err)
	}
	return g, nil
}

func (s *SQLite) AddArchitecture(ctx context.Context, g *arch.Graph) (RowID, error) {
	data, err := g.Encode()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "INSERT INTO architecture(name, hash, data) VALUES(?,?,?)",
		g.Name, architectureHash(data), data)
	if err != nil {
		return 0, errors.Wrap(err, "insert architecture")
	}
	id, err := res.LastInsertId()
	return RowID(id), err
}

func (s *SQLite) FindArchitecture(ctx context.Context, g *arch.Graph) (RowID, error) {
	data, err := g.Encode()
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM architecture WHERE hash = ? ORDER BY id LIMIT 1", architectureHash(data)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrap(ErrNotFound, "architecture %v", g.Name)
	}
	if err != nil {
		return 0, errors.Wrap(err, "find architecture")
	}
	return RowID(id), nil
}

func (s *SQLite) AddConfiguration(ctx context.Context, c Configuration) (RowID, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM architecture WHERE id = ?", c.ArchitectureID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "check architecture")
	}
	if n == 0 {
		return 0, errors.Wrap(ErrNotFound, "architecture %d", c.ArchitectureID)
	}

	hasImpl := 0
	if c.HasImplementation {
		hasImpl = 1
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO configuration(architecture, implementation, has_implementation) VALUES(?,?,?)",
		c.ArchitectureID, c.ImplementationID, hasImpl)
	if err != nil {
		return 0, errors.Wrap(err, "insert configuration")
	}
	id, err := res.LastInsertId()
	return RowID(id), err
}

func (s *SQLite) CycleCounts(ctx context.Context, c Configuration) ([]uint64, error) {
	// latest row per workload wins
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycles FROM cycle_count
		WHERE id IN (SELECT MAX(id) FROM cycle_count WHERE architecture = ? GROUP BY workload)
		ORDER BY workload`, c.ArchitectureID)
	if err != nil {
		return nil, errors.Wrap(err, "cycle counts of architecture %d", c.ArchitectureID)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var cc int64
		if err := rows.Scan(&cc); err != nil {
			return nil, errors.Wrap(err, "scan cycle count")
		}
		out = append(out, uint64(cc))
	}
	return out, rows.Err()
}

func (s *SQLite) AddCycleCount(ctx context.Context, workload, architecture RowID, cycles uint64) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO cycle_count(workload, architecture, cycles) VALUES(?,?,?)",
		workload, architecture, int64(cycles))
	if err != nil {
		return errors.Wrap(err, "insert cycle count")
	}
	return nil
}

func (s *SQLite) AddWorkload(ctx context.Context, w Workload) (RowID, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO workload(name, path) VALUES(?,?)", w.Name, w.Path)
	if err != nil {
		return 0, errors.Wrap(err, "insert workload")
	}
	id, err := res.LastInsertId()
	return RowID(id), err
}

func (s *SQLite) Workloads(ctx context.Context) ([]Workload, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, path FROM workload ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "workloads")
	}
	defer rows.Close()

	var out []Workload
	for rows.Next() {
		var w Workload
		if err := rows.Scan(&w.ID, &w.Name, &w.Path); err != nil {
			return nil, errors.Wrap(err, "scan workload")
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

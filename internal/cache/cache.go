// Package cache persists candidate and requirement metadata between
// resolution runs. The store is a single sqlite file under the user
// cache directory whose name encodes the schema version and the PEP 425
// tag tuple, so each target environment gets an isolated cache and a
// schema bump abandons stale files.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/pyenv"
)

const schemaVersion = "0.4"

const schema = `
CREATE TABLE IF NOT EXISTS candidate_infos (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	package_type TEXT NOT NULL,
	source TEXT NOT NULL,
	location TEXT NOT NULL,
	hash_alg TEXT NOT NULL,
	hash_val TEXT NOT NULL,
	requirements_cached INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (name, version, package_type, source, location)
);
CREATE INDEX IF NOT EXISTS candidate_infos_by_name ON candidate_infos (name);
CREATE INDEX IF NOT EXISTS candidate_infos_by_hash ON candidate_infos (hash_val);

CREATE TABLE IF NOT EXISTS requirement_infos (
	candidate_hash TEXT NOT NULL,
	name TEXT NOT NULL,
	specifier TEXT NOT NULL,
	extras TEXT NOT NULL,
	marker TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS requirement_infos_by_candidate ON requirement_infos (candidate_hash);
`

// Store is the interface the metadata façade consumes.
type Store interface {
	// CandidateInfos returns the cached candidate list for a name, or
	// ok=false on a miss.
	CandidateInfos(name string) (infos []distinfo.CandidateInfo, ok bool, err error)
	// SetCandidateInfos replaces the cached candidate list for a name.
	SetCandidateInfos(name string, infos []distinfo.CandidateInfo) error
	// RequirementInfos returns the cached requirement list for a
	// candidate. ok is false unless the candidate's requirements flag
	// was set by a previous SetRequirementInfos.
	RequirementInfos(candidate distinfo.CandidateInfo) (infos []distinfo.RequirementInfo, ok bool, err error)
	// SetRequirementInfos stores a candidate's requirement list and sets
	// its flag, atomically.
	SetRequirementInfos(candidate distinfo.CandidateInfo, infos []distinfo.RequirementInfo) error

	Close() error
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	dir    string
	logger *slog.Logger
}

// WithDir sets the cache directory, overriding the platform default and
// DOTLOCK_CACHE_DIR.
func WithDir(dir string) Option {
	return func(c *config) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Manager is the sqlite-backed Store.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

// compile-time proof that Manager implements Store.
var _ Store = (*Manager)(nil)

// Filename returns the cache filename for an environment, e.g.
// "cache-0.4-cp37-cp37m-linux_x86_64-manylinux1.sqlite".
func Filename(tags pyenv.Tags) string {
	manylinux := ""
	if tags.Manylinux1 {
		manylinux = "-manylinux1"
	}

	return fmt.Sprintf("cache-%s-%s-%s-%s%s.sqlite",
		schemaVersion, tags.ImplTag(), tags.ABI, tags.Platform, manylinux)
}

// Open opens (creating if necessary) the cache for an environment. A
// single connection serves the whole resolution run.
func Open(tags pyenv.Tags, opts ...Option) (*Manager, error) {
	cfg := &config{logger: slog.Default()}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.dir == "" {
		cfg.dir = defaultCacheDir()
	}

	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", cfg.dir, err)
	}

	path := filepath.Join(cfg.dir, Filename(tags))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}

	// One connection per resolution run; transactions wrap each insert
	// batch.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	cfg.logger.Debug("cache opened", slog.String("path", path))

	return &Manager{db: db, logger: cfg.logger}, nil
}

// Close releases the database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// CandidateInfos looks up the cached candidate list for a name.
func (m *Manager) CandidateInfos(name string) ([]distinfo.CandidateInfo, bool, error) {
	rows, err := m.db.Query(
		`SELECT name, version, package_type, source, location, hash_alg, hash_val
		 FROM candidate_infos WHERE name = ? ORDER BY rowid`,
		name,
	)
	if err != nil {
		return nil, false, fmt.Errorf("querying candidates for %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var infos []distinfo.CandidateInfo

	for rows.Next() {
		var (
			info        distinfo.CandidateInfo
			packageType string
		)

		if err := rows.Scan(&info.Name, &info.Version, &packageType,
			&info.Source, &info.Location, &info.HashAlg, &info.HashVal); err != nil {
			return nil, false, fmt.Errorf("scanning candidate row: %w", err)
		}

		info.PackageType, err = distinfo.ParsePackageType(packageType)
		if err != nil {
			return nil, false, fmt.Errorf("cache row for %s: %w", name, err)
		}

		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("reading candidate rows: %w", err)
	}

	if len(infos) == 0 {
		m.logger.Debug("cache miss for candidates", slog.String("name", name))

		return nil, false, nil
	}

	m.logger.Debug("cache hit for candidates", slog.String("name", name))

	return infos, true, nil
}

// SetCandidateInfos replaces the cached candidate list for a name in one
// transaction.
func (m *Manager) SetCandidateInfos(name string, infos []distinfo.CandidateInfo) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM candidate_infos WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clearing candidates for %s: %w", name, err)
	}

	for _, info := range infos {
		if _, err := tx.Exec(
			`INSERT INTO candidate_infos (name, version, package_type, source, location, hash_alg, hash_val, requirements_cached)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
			info.Name, info.Version, info.PackageType.String(),
			info.Source, info.Location, info.HashAlg, info.HashVal,
		); err != nil {
			return fmt.Errorf("inserting candidate %s: %w", info, err)
		}
	}

	return tx.Commit()
}

// RequirementInfos looks up the cached requirement list for a candidate.
// A candidate row without the requirements flag is a miss even when
// requirement rows exist.
func (m *Manager) RequirementInfos(candidate distinfo.CandidateInfo) ([]distinfo.RequirementInfo, bool, error) {
	var cached bool

	err := m.db.QueryRow(
		`SELECT requirements_cached FROM candidate_infos WHERE hash_val = ?`,
		candidate.HashVal,
	).Scan(&cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("querying requirements flag for %s: %w", candidate, err)
	}

	if !cached {
		m.logger.Debug("cache miss for requirements", slog.String("candidate", candidate.String()))

		return nil, false, nil
	}

	rows, err := m.db.Query(
		`SELECT name, specifier, extras, marker FROM requirement_infos
		 WHERE candidate_hash = ? ORDER BY rowid`,
		candidate.HashVal,
	)
	if err != nil {
		return nil, false, fmt.Errorf("querying requirements for %s: %w", candidate, err)
	}
	defer func() { _ = rows.Close() }()

	infos := []distinfo.RequirementInfo{}

	for rows.Next() {
		var info distinfo.RequirementInfo

		if err := rows.Scan(&info.Name, &info.Specifier, &info.Extras, &info.Marker); err != nil {
			return nil, false, fmt.Errorf("scanning requirement row: %w", err)
		}

		info.SpecifierType = distinfo.SpecifierVersion
		// Unconstrained specifiers are stored as the literal "*".
		if info.Specifier == "*" {
			info.Specifier = ""
		}

		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("reading requirement rows: %w", err)
	}

	m.logger.Debug("cache hit for requirements", slog.String("candidate", candidate.String()))

	return infos, true, nil
}

// SetRequirementInfos stores a candidate's requirement list and sets its
// flag in one transaction.
func (m *Manager) SetRequirementInfos(candidate distinfo.CandidateInfo, infos []distinfo.RequirementInfo) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`DELETE FROM requirement_infos WHERE candidate_hash = ?`, candidate.HashVal,
	); err != nil {
		return fmt.Errorf("clearing requirements for %s: %w", candidate, err)
	}

	for _, info := range infos {
		specifier := info.Specifier
		if specifier == "" {
			specifier = "*"
		}

		if _, err := tx.Exec(
			`INSERT INTO requirement_infos (candidate_hash, name, specifier, extras, marker)
			 VALUES (?, ?, ?, ?, ?)`,
			candidate.HashVal, info.Name, specifier, info.Extras, info.Marker,
		); err != nil {
			return fmt.Errorf("inserting requirement %s: %w", info, err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE candidate_infos SET requirements_cached = 1 WHERE hash_val = ?`,
		candidate.HashVal,
	); err != nil {
		return fmt.Errorf("setting requirements flag for %s: %w", candidate, err)
	}

	return tx.Commit()
}

// defaultCacheDir resolves the cache directory. Priority:
// DOTLOCK_CACHE_DIR > user cache dir > temp dir.
func defaultCacheDir() string {
	if dir := os.Getenv("DOTLOCK_CACHE_DIR"); dir != "" {
		return dir
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "dotlock")
	}

	return filepath.Join(base, "dotlock")
}

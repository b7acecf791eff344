package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// SQLiteStore persists executions and trigger configurations to a SQLite
// database so history survives restarts. Plans and records are stored as
// JSON columns; the queryable fields (wallet, status, timestamps) get their
// own columns and indexes.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ExecutionStore = (*SQLiteStore)(nil)
	_ TriggerStore   = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id           TEXT PRIMARY KEY,
			wallet       TEXT NOT NULL,
			strategy     TEXT NOT NULL,
			status       TEXT NOT NULL,
			dry_run      INTEGER NOT NULL DEFAULT 0,
			plan         TEXT NOT NULL,
			records      TEXT NOT NULL,
			error        TEXT,
			started_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_wallet ON executions(wallet, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,

		`CREATE TABLE IF NOT EXISTS triggers (
			wallet                 TEXT PRIMARY KEY,
			strategy               TEXT NOT NULL,
			enabled                INTEGER NOT NULL,
			interval_seconds       INTEGER NOT NULL,
			min_apy                REAL NOT NULL,
			value_change_threshold REAL NOT NULL,
			max_slippage           REAL NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Put inserts or replaces an execution snapshot.
func (s *SQLiteStore) Put(execution *models.Execution) error {
	planJSON, err := json.Marshal(execution.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	recordsJSON, err := json.Marshal(execution.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	var completedAt sql.NullInt64
	if execution.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: execution.CompletedAt.UnixNano(), Valid: true}
	}
	dryRun := 0
	if execution.DryRun {
		dryRun = 1
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO executions
		(id, wallet, strategy, status, dry_run, plan, records, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		execution.ID, execution.WalletAddress, execution.Strategy, string(execution.Status),
		dryRun, string(planJSON), string(recordsJSON), execution.Error,
		execution.StartedAt.UnixNano(), completedAt)
	if err != nil {
		return fmt.Errorf("put execution %s: %w", execution.ID, err)
	}
	return nil
}

// Get returns the execution with the given ID.
func (s *SQLiteStore) Get(id string) (*models.Execution, error) {
	row := s.db.QueryRow(`SELECT id, wallet, strategy, status, dry_run, plan, records, error, started_at, completed_at
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListByWallet returns the wallet's executions, newest first.
func (s *SQLiteStore) ListByWallet(wallet string, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unbounded.
	}
	rows, err := s.db.Query(`SELECT id, wallet, strategy, status, dry_run, plan, records, error, started_at, completed_at
		FROM executions WHERE wallet = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		wallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", wallet, err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if executions == nil {
		executions = []*models.Execution{}
	}
	return executions, rows.Err()
}

// ActiveForWallet returns the wallet's most recent non-terminal execution.
func (s *SQLiteStore) ActiveForWallet(wallet string) (*models.Execution, error) {
	row := s.db.QueryRow(`SELECT id, wallet, strategy, status, dry_run, plan, records, error, started_at, completed_at
		FROM executions WHERE wallet = ? AND status IN (?, ?)
		ORDER BY started_at DESC LIMIT 1`,
		wallet, string(models.ExecutionPending), string(models.ExecutionExecuting))
	return scanExecution(row)
}

// LatestForWallet returns the wallet's most recent execution.
func (s *SQLiteStore) LatestForWallet(wallet string) (*models.Execution, error) {
	row := s.db.QueryRow(`SELECT id, wallet, strategy, status, dry_run, plan, records, error, started_at, completed_at
		FROM executions WHERE wallet = ? ORDER BY started_at DESC LIMIT 1`, wallet)
	return scanExecution(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		status      string
		dryRun      int
		planJSON    string
		recordsJSON string
		errMsg      sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(&execution.ID, &execution.WalletAddress, &execution.Strategy, &status,
		&dryRun, &planJSON, &recordsJSON, &errMsg, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	execution.Status = models.ExecutionStatus(status)
	execution.DryRun = dryRun != 0
	execution.Error = errMsg.String
	execution.StartedAt = time.Unix(0, startedAt)
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		execution.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(planJSON), &execution.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan for %s: %w", execution.ID, err)
	}
	if err := json.Unmarshal([]byte(recordsJSON), &execution.Records); err != nil {
		return nil, fmt.Errorf("unmarshal records for %s: %w", execution.ID, err)
	}
	return &execution, nil
}

// SetTrigger inserts or replaces the wallet's trigger configuration.
func (s *SQLiteStore) SetTrigger(config *models.TriggerConfig) error {
	enabled := 0
	if config.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO triggers
		(wallet, strategy, enabled, interval_seconds, min_apy, value_change_threshold, max_slippage)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		config.WalletAddress, config.Strategy, enabled, int64(config.Interval.Seconds()),
		config.MinAPY, config.ValueChangeThreshold, config.MaxSlippage)
	if err != nil {
		return fmt.Errorf("set trigger for %s: %w", config.WalletAddress, err)
	}
	return nil
}

// GetTrigger returns the wallet's trigger configuration.
func (s *SQLiteStore) GetTrigger(wallet string) (*models.TriggerConfig, error) {
	row := s.db.QueryRow(`SELECT wallet, strategy, enabled, interval_seconds, min_apy, value_change_threshold, max_slippage
		FROM triggers WHERE wallet = ?`, wallet)
	return scanTrigger(row)
}

// ListTriggers returns all trigger configurations.
func (s *SQLiteStore) ListTriggers() ([]*models.TriggerConfig, error) {
	rows, err := s.db.Query(`SELECT wallet, strategy, enabled, interval_seconds, min_apy, value_change_threshold, max_slippage
		FROM triggers ORDER BY wallet`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var configs []*models.TriggerConfig
	for rows.Next() {
		config, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	if configs == nil {
		configs = []*models.TriggerConfig{}
	}
	return configs, rows.Err()
}

func scanTrigger(row rowScanner) (*models.TriggerConfig, error) {
	var (
		config          models.TriggerConfig
		enabled         int
		intervalSeconds int64
	)
	err := row.Scan(&config.WalletAddress, &config.Strategy, &enabled, &intervalSeconds,
		&config.MinAPY, &config.ValueChangeThreshold, &config.MaxSlippage)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}
	config.Enabled = enabled != 0
	config.Interval = time.Duration(intervalSeconds) * time.Second
	return &config, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

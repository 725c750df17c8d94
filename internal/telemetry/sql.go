package telemetry

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rjboer/rxcal/internal/logging"
)

const (
	sqliteCreateTrialsTmpl = `CREATE TABLE IF NOT EXISTS rxcal_trials (
		"ID"          INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"RunID"       TEXT NOT NULL,
		"Experiment"  TEXT NOT NULL,
		"Trial"       INTEGER,
		"Requested"   INTEGER,
		"Filled"      INTEGER,
		"ReadCount"   INTEGER,
		"FaultCode"   INTEGER,
		"Fault"       TEXT,
		"FilterError" TEXT,
		"DurationNs"  INTEGER,
		"Timestamp"   INTEGER
	);`
	sqliteCreateExperimentsTmpl = `CREATE TABLE IF NOT EXISTS rxcal_experiments (
		"ID"           INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"RunID"        TEXT NOT NULL,
		"Experiment"   TEXT NOT NULL,
		"Output"       TEXT,
		"Trials"       INTEGER,
		"Executed"     INTEGER,
		"Faulted"      INTEGER,
		"LastComplete" INTEGER,
		"Aborted"      INTEGER,
		"Error"        TEXT,
		"Started"      INTEGER,
		"Finished"     INTEGER
	);`

	mysqlCreateTrialsTmpl = `CREATE TABLE IF NOT EXISTS rxcal_trials (
		ID          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		RunID       VARCHAR(64) NOT NULL,
		Experiment  VARCHAR(255) NOT NULL,
		Trial       INT,
		Requested   INT,
		Filled      INT,
		ReadCount   INT,
		FaultCode   INT,
		Fault       TEXT,
		FilterError TEXT,
		DurationNs  BIGINT,
		Timestamp   BIGINT
	);`
	mysqlCreateExperimentsTmpl = `CREATE TABLE IF NOT EXISTS rxcal_experiments (
		ID           BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		RunID        VARCHAR(64) NOT NULL,
		Experiment   VARCHAR(255) NOT NULL,
		Output       TEXT,
		Trials       INT,
		Executed     INT,
		Faulted      INT,
		LastComplete BOOL,
		Aborted      BOOL,
		Error        TEXT,
		Started      BIGINT,
		Finished     BIGINT
	);`

	sqlInsertTrialTmpl = `INSERT INTO rxcal_trials (
		RunID, Experiment, Trial, Requested, Filled, ReadCount,
		FaultCode, Fault, FilterError, DurationNs, Timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlInsertExperimentTmpl = `INSERT INTO rxcal_experiments (
		RunID, Experiment, Output, Trials, Executed, Faulted,
		LastComplete, Aborted, Error, Started, Finished
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// SQLConfig selects the backing database.
type SQLConfig struct {
	// Driver is "sqlite3" or "mysql".
	Driver string
	// Path is the sqlite database file.
	Path string
	// MySQL connection settings.
	User     string
	Password string
	Addr     string
	Database string
}

// DSN returns the driver specific data source name.
func (c SQLConfig) DSN() (string, error) {
	switch c.Driver {
	case "sqlite3", "sqlite":
		if c.Path == "" {
			return "", fmt.Errorf("sqlite path is required")
		}
		return c.Path, nil
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = c.Addr
		cfg.DBName = c.Database
		return cfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", c.Driver)
	}
}

// SQLStore persists trial and experiment events. Insert failures are logged
// and never interrupt a run.
type SQLStore struct {
	mu     sync.Mutex
	db     *sql.DB
	trial  *sql.Stmt
	exp    *sql.Stmt
	logger logging.Logger
}

// OpenSQLStore opens the database and creates the tables if needed.
func OpenSQLStore(cfg SQLConfig, logger logging.Logger) (*SQLStore, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	store, err := NewSQLStore(db, driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database. dialect selects the table schema.
func NewSQLStore(db *sql.DB, dialect string, logger logging.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	creates := []string{sqliteCreateTrialsTmpl, sqliteCreateExperimentsTmpl}
	if dialect == "mysql" {
		creates = []string{mysqlCreateTrialsTmpl, mysqlCreateExperimentsTmpl}
	}
	for _, stmt := range creates {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("unable to create table: %w", err)
		}
	}
	trial, err := db.Prepare(sqlInsertTrialTmpl)
	if err != nil {
		return nil, fmt.Errorf("prepare trial insert: %w", err)
	}
	exp, err := db.Prepare(sqlInsertExperimentTmpl)
	if err != nil {
		_ = trial.Close()
		return nil, fmt.Errorf("prepare experiment insert: %w", err)
	}
	return &SQLStore{
		db:     db,
		trial:  trial,
		exp:    exp,
		logger: logger.With(logging.F("subsystem", "sql"), logging.F("dialect", dialect)),
	}, nil
}

func (s *SQLStore) ReportTrial(ev TrialEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.trial.Exec(
		ev.RunID, ev.Experiment, ev.Trial, ev.Requested, ev.Filled, ev.Reads,
		ev.FaultCode, ev.Fault, ev.FilterError, ev.Duration.Nanoseconds(), ev.Timestamp.UnixNano(),
	)
	if err != nil {
		s.logger.Warn("error storing trial", logging.F("err", err))
	}
}

func (s *SQLStore) ReportExperiment(ev ExperimentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.exp.Exec(
		ev.RunID, ev.Experiment, ev.Output, ev.Trials, ev.Executed, ev.Faulted,
		ev.LastComplete, ev.Aborted, ev.Error, ev.Started.UnixNano(), ev.Finished.UnixNano(),
	)
	if err != nil {
		s.logger.Warn("error storing experiment", logging.F("err", err))
	}
}

// TrialCounts returns the number of stored trials per experiment for runID.
func (s *SQLStore) TrialCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT Experiment, COUNT(*) FROM rxcal_trials WHERE RunID = ? GROUP BY Experiment`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Close releases the statements and the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []string
	for _, c := range []interface{ Close() error }{s.trial, s.exp, s.db} {
		if err := c.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sql store: %s", strings.Join(errs, "; "))
	}
	return nil
}

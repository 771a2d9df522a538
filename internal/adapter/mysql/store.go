// Package mysql persists normalized violations and weather days and owns the
// per-source ingest leases. All writes go through batch transactions so a
// failed batch leaves no partial rows behind.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

// Params carries the connection settings resolved by a credential provider.
type Params struct {
	Host     string
	Port     int
	DBName   string
	Username string
	Password string
}

const createViolationsTable = `
CREATE TABLE IF NOT EXISTS violations (
    violation_id VARCHAR(50) PRIMARY KEY,
    issue_date DATETIME,
    violation_date DATE,
    issuing_agency_name VARCHAR(200),
    accident_indicator VARCHAR(10),
    location TEXT,
    violation_code VARCHAR(50),
    violation_desc TEXT,
    fine_amount DOUBLE,
    total_paid DOUBLE,
    latitude DOUBLE,
    longitude DOUBLE,
    month VARCHAR(7)
)`

const createWeatherTable = `
CREATE TABLE IF NOT EXISTS weather_daily (
    weather_date DATE PRIMARY KEY,
    tempmax DOUBLE,
    tempmin DOUBLE,
    temp DOUBLE,
    precip DOUBLE,
    humidity DOUBLE,
    windspeed DOUBLE,
    conditions TEXT,
    is_rain TINYINT
)`

// Store wraps the MySQL connection pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an existing pool. Used by tests; production code goes
// through Open.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, params Params, logger *slog.Logger) (*Store, error) {
	cfg := gomysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	cfg.DBName = params.DBName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected", "host", params.Host, "database", params.DBName)
	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema creates the target tables when they do not exist yet. It never
// alters or drops existing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createViolationsTable, createWeatherTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LatestViolationDate returns the most recent violation_date, or nil when the
// table is empty.
func (s *Store) LatestViolationDate(ctx context.Context) (*time.Time, error) {
	return s.latestDate(ctx, "SELECT MAX(violation_date) FROM violations")
}

// LatestWeatherDate returns the most recent weather_date, or nil when the
// table is empty.
func (s *Store) LatestWeatherDate(ctx context.Context) (*time.Time, error) {
	return s.latestDate(ctx, "SELECT MAX(weather_date) FROM weather_daily")
}

func (s *Store) latestDate(ctx context.Context, query string) (*time.Time, error) {
	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return nil, fmt.Errorf("latest date: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	day := domain.Midnight(latest.Time.UTC())
	return &day, nil
}

// AcquireLease takes the named MySQL lock for a source without blocking.
// MySQL ties named locks to the connection that took them, so the lock's
// connection stays pinned until the returned release func runs.
func (s *Store) AcquireLease(ctx context.Context, source string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease connection: %w", err)
	}

	name := leaseName(source)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("lease %s: %w", name, domain.ErrLeaseHeld)
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(releaseCtx, "DO RELEASE_LOCK(?)", name); err != nil {
			s.logger.Warn("release lease", "lease", name, "error", err)
		}
		conn.Close()
	}
	return release, nil
}

func leaseName(source string) string {
	return "etl_ingest_" + source
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

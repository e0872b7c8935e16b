package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by Get when no record has the given ID.
var ErrNotFound = errors.New("execution record not found")

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// PostgresConfig configures the PostgreSQL connection and pool.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
}

func (c PostgresConfig) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c PostgresConfig) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c PostgresConfig) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

// DB implements Store backed by GORM on either driver.
type DB struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string
}

// OpenSQLite creates a SQLite-backed store. WAL mode is enabled by default
// for concurrent reads.
func OpenSQLite(cfg SQLiteConfig, slogger *slog.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&RecordModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	slogger.Info("history store opened",
		slog.String("driver", DriverSQLite),
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &DB{db: db, logger: slogger, driver: DriverSQLite}, nil
}

// OpenPostgres connects to PostgreSQL and configures the connection pool.
func OpenPostgres(cfg PostgresConfig, slogger *slog.Logger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      newGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	if err := db.AutoMigrate(&RecordModel{}); err != nil {
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	slogger.Info("history store opened",
		slog.String("driver", DriverPostgres),
		slog.Int("max_open_conns", cfg.maxOpen()),
	)
	return &DB{db: db, logger: slogger, driver: DriverPostgres}, nil
}

// Save inserts a single record. Append-only: records are never updated.
func (d *DB) Save(ctx context.Context, rec *Record) error {
	model, err := toModel(rec)
	if err != nil {
		return fmt.Errorf("encoding execution record: %w", err)
	}
	if err := d.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("saving execution record: %w", err)
	}
	return nil
}

// Get returns the record with the given invocation ID.
func (d *DB) Get(ctx context.Context, id string) (*Record, error) {
	var model RecordModel
	err := d.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution record: %w", err)
	}
	return toDomain(&model)
}

// List returns records matching the filter, newest first.
func (d *DB) List(ctx context.Context, f Filter) ([]*Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := d.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)
	if f.Backend != "" {
		q = q.Where("backend = ?", f.Backend)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}

	var models []RecordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing execution records: %w", err)
	}

	records := make([]*Record, 0, len(models))
	for i := range models {
		rec, err := toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Prune deletes records created before the cutoff and returns the count.
func (d *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := d.db.WithContext(ctx).Where("created_at < ?", before).Delete(&RecordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning execution records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping checks the database connection for readiness probes.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns the backing driver name.
func (d *DB) Driver() string { return d.driver }

func newGormLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ Store = (*DB)(nil)

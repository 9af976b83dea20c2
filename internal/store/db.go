package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}

// NewDB creates a new database connection with optimized pooling
func NewDB(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "comp_eval.db")

	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 25, 5, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	// Run migrations
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize prepared statements
	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns,
		"max_lifetime", pool.maxLifetime)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		// Student membership facts, maintained by the upstream CRUD subsystem.
		// class_id and grade_year define the two ranking scopes.
		`CREATE TABLE IF NOT EXISTS students (
			student_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			class_id INTEGER NOT NULL,
			grade_year TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// One committed composite record per student per term. Rank columns
		// stay NULL until a full-scope ranking pass commits them. version is
		// a monotonic stamp so a stale aggregate can never clobber a newer one.
		`CREATE TABLE IF NOT EXISTS composite_records (
			student_id INTEGER NOT NULL,
			academic_year TEXT NOT NULL,
			semester INTEGER NOT NULL,
			academic_score REAL NOT NULL,
			innovation_score REAL NOT NULL,
			social_score REAL NOT NULL,
			cultural_sports_score REAL NOT NULL,
			bonus_totals TEXT NOT NULL, -- JSON category -> sum
			total_score REAL NOT NULL,
			gpa REAL,
			class_rank INTEGER,
			grade_rank INTEGER,
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (student_id, academic_year, semester),
			FOREIGN KEY (student_id) REFERENCES students(student_id)
		)`,

		// Append-only bonus ledger. No UPDATE or DELETE ever touches this
		// table; corrections are offsetting entries. rowid preserves
		// insertion order for the itemized breakdown.
		`CREATE TABLE IF NOT EXISTS bonus_entries (
			id TEXT PRIMARY KEY,
			student_id INTEGER NOT NULL,
			academic_year TEXT NOT NULL,
			semester INTEGER NOT NULL,
			category TEXT NOT NULL,
			item_name TEXT NOT NULL,
			score REAL NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id)`,
		`CREATE INDEX IF NOT EXISTS idx_students_grade ON students(grade_year)`,
		`CREATE INDEX IF NOT EXISTS idx_records_term ON composite_records(academic_year, semester)`,
		`CREATE INDEX IF NOT EXISTS idx_records_class_rank ON composite_records(academic_year, semester, class_rank)`,
		`CREATE INDEX IF NOT EXISTS idx_records_grade_rank ON composite_records(academic_year, semester, grade_rank)`,
		`CREATE INDEX IF NOT EXISTS idx_bonus_student_term ON bonus_entries(student_id, academic_year, semester)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"upsert_student": `INSERT INTO students (student_id, name, class_id, grade_year, updated_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT(student_id) DO UPDATE SET
			name = excluded.name,
			class_id = excluded.class_id,
			grade_year = excluded.grade_year,
			updated_at = excluded.updated_at`,

		"get_student": `SELECT student_id, name, class_id, grade_year, updated_at
			FROM students WHERE student_id = ?`,

		"get_record": `SELECT r.student_id, s.name, s.class_id, s.grade_year,
			r.academic_year, r.semester,
			r.academic_score, r.innovation_score, r.social_score, r.cultural_sports_score,
			r.bonus_totals, r.total_score, r.gpa, r.class_rank, r.grade_rank,
			r.version, r.updated_at
			FROM composite_records r
			JOIN students s ON s.student_id = r.student_id
			WHERE r.student_id = ? AND r.academic_year = ? AND r.semester = ?`,

		"insert_bonus": `INSERT INTO bonus_entries (
			id, student_id, academic_year, semester, category, item_name, score, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"bonus_totals": `SELECT category, SUM(score)
			FROM bonus_entries
			WHERE student_id = ? AND academic_year = ? AND semester = ?
			GROUP BY category`,

		"bonus_entries": `SELECT id, student_id, academic_year, semester, category, item_name, score, description, created_at
			FROM bonus_entries
			WHERE student_id = ? AND academic_year = ? AND semester = ?
			ORDER BY rowid ASC`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}

	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}

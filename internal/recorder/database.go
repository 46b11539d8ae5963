package recorder

import (
	"database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBManager handles the recorder's database connection: Postgres when
// configured and reachable, with a local SQLite fallback so recording never
// blocks a tracking session on infrastructure.
type DBManager struct {
	DB         *gorm.DB
	SqlDB      *sql.DB
	IsValid    bool
	LocalOnly  bool
	Backend    string
	SqlitePath string
	Logger     zerolog.Logger
}

// NewDBManager creates a database manager for the configured backend,
// writing SQLite files to the given path when local.
func NewDBManager(log zerolog.Logger, backend, sqlitePath string) *DBManager {
	return &DBManager{
		Backend:    backend,
		SqlitePath: sqlitePath,
		Logger:     log,
	}
}

// Connect establishes a database connection. The "postgres" backend falls
// back to SQLite when the server is unreachable; any other backend goes
// straight to SQLite.
func (m *DBManager) Connect() error {
	var err error

	if m.Backend != "postgres" {
		m.LocalOnly = true
		m.DB, err = m.getSqliteDB(m.SqlitePath)
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
		m.SqlDB, err = m.DB.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %s", err)
		}
		m.IsValid = true
		return nil
	}

	m.DB, err = m.getPostgresDB()
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		m.LocalOnly = true
		m.DB, err = m.getSqliteDB(m.SqlitePath)
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
	}

	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %s", err)
	}
	if err := m.SqlDB.Ping(); err != nil {
		m.Logger.Error().Err(err).Msg("Failed to validate connection, trying SQLite")
		m.LocalOnly = true
		m.DB, err = m.getSqliteDB(m.SqlitePath)
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
	}

	m.IsValid = true
	if !m.LocalOnly {
		m.Logger.Info().Msg("Connected to database")
		m.SqlDB.SetMaxOpenConns(10)
	}
	return nil
}

// getPostgresDB opens the configured Postgres database.
func (m *DBManager) getPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)

	m.Logger.Debug().Msgf("Connecting to Postgres DB at '%s'", dsn)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        5000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// getSqliteDB opens a SQLite database at path, or in memory when path is
// empty.
func (m *DBManager) getSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}
	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	} else {
		m.Logger.Info().Msg("Using in-memory SQLite DB")
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}
	return db, nil
}

package database

import (
	"fmt"
	"time"

	"github.com/sahilchouksey/study-ingest/config"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the database handle shared by the API, worker and cron jobs
type Storage interface {
	Init() error
	Close() error
	GetDB() *gorm.DB
	HealthCheck() error
}

type GORMStore struct {
	db  *gorm.DB
	log *utils.Logger
}

// StartGORM opens the configured database (Postgres by default, sqlite for
// local runs) and tunes the connection pool
func StartGORM(env *config.EnviornmentVariable, log *utils.Logger) (*GORMStore, error) {
	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Warn)
	if env.IsProduction() {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	gormConfig := &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: false,
		TranslateError:         true,
	}

	var dialector gorm.Dialector
	switch env.DB_DRIVER {
	case "sqlite":
		dsn := env.DATABASE_URL
		if dsn == "" {
			dsn = "file:study-ingest.db?_foreign_keys=on"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "":
		dsn := env.DATABASE_URL
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
				env.DB_HOST,
				env.DB_USER_NAME,
				env.DB_PASSWORD,
				env.DB_NAME,
				env.DB_PORT,
				env.DB_SSL_MODE,
			)
		}
		dialector = postgres.Open(dsn)
		gormConfig.PrepareStmt = true
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", env.DB_DRIVER)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		log.Error("unable to connect to database", "driver", env.DB_DRIVER, "error", err)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	if env.DB_DRIVER == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("connected to database", "driver", db.Dialector.Name())

	return NewGORMStore(db, log), nil
}

// NewGORMStore wraps an already opened connection
func NewGORMStore(db *gorm.DB, log *utils.Logger) *GORMStore {
	return &GORMStore{db: db, log: log}
}

// Init creates the vector extension on Postgres and runs AutoMigrate
func (s *GORMStore) Init() error {
	isPostgres := s.db.Dialector.Name() == "postgres"

	if isPostgres {
		if err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	s.log.Info("running AutoMigrate")
	if err := Migrate(s.db); err != nil {
		s.log.Error("AutoMigrate failed", "error", err)
		return err
	}

	if isPostgres {
		// Approximate nearest neighbour index for cosine distance
		err := s.db.Exec("CREATE INDEX IF NOT EXISTS units_embedding_hnsw_idx ON units USING hnsw (embedding vector_cosine_ops)").Error
		if err != nil {
			return fmt.Errorf("failed to create embedding index: %w", err)
		}
	}

	s.log.Info("AutoMigrate completed")
	return nil
}

// Migrate creates or updates every table the service owns
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Bucket{},
		&model.Course{},
		&model.Task{},
		&model.File{},
		&model.Unit{},
		&model.CronJobLog{},
	)
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	s.log.Info("closing database connection")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance for use in services/handlers
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

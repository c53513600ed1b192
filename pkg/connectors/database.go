// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/homemicai/pkg/commons"
)

// DatabaseConnector owns the gorm handle for the process. Callers take a
// request-scoped *gorm.DB via DB(ctx); background jobs must each take
// their own handle rather than sharing one across goroutines.
type DatabaseConnector interface {
	DB(ctx context.Context) *gorm.DB
	Migrate(models ...interface{}) error
	Close() error
}

// PostgresConfig mirrors the POSTGRES__* config block.
type PostgresConfig struct {
	Host              string `mapstructure:"host" validate:"required"`
	Port              int    `mapstructure:"port" validate:"required"`
	DbName            string `mapstructure:"db_name" validate:"required"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SslMode           string `mapstructure:"ssl_mode"`
	MaxOpenConnection int    `mapstructure:"max_open_connection"`
	MaxIdleConnection int    `mapstructure:"max_idle_connection"`
}

type databaseConnector struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewPostgresConnector connects to postgres with pooled connections.
func NewPostgresConnector(cfg PostgresConfig, logger commons.Logger) (DatabaseConnector, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DbName, cfg.SslMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnection)
	}
	if cfg.MaxIdleConnection > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnection)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Infof("connected to postgres %s:%d/%s", cfg.Host, cfg.Port, cfg.DbName)
	return &databaseConnector{db: db, logger: logger}, nil
}

// NewSqliteConnector opens (creating if needed) a file-backed sqlite
// database. The default deployment runs on a single box, so sqlite is the
// out-of-the-box store; postgres is a config switch.
func NewSqliteConnector(path string, logger commons.Logger) (DatabaseConnector, error) {
	if dir := filepath.Dir(path); dir != "" && dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// races between the HTTP path and background transcription jobs.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Infof("opened sqlite database %s", path)
	return &databaseConnector{db: db, logger: logger}, nil
}

func (c *databaseConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *databaseConnector) Migrate(models ...interface{}) error {
	return c.db.AutoMigrate(models...)
}

func (c *databaseConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database persists submitted operations and the last published gauge
// catalog in sqlite.
package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	databaseFileName = "tally.sqlite"

	DefaultOperationRetention = 7 * 24 * time.Hour
	maintenanceInterval       = 24 * time.Hour
)

var ErrNoSnapshot = errors.New("no catalog snapshot stored")

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is the directory holding the database file. An empty value
	// selects a private in-memory database.
	DataDir string
	// OperationRetention is how long confirmed and rejected operations are
	// kept before the daily maintenance removes them
	OperationRetention time.Duration
}

type Database struct {
	logger    *slog.Logger
	db        *gorm.DB
	dataDir   string
	retention time.Duration
	metrics   *databaseMetrics
	nowFunc   func() time.Time

	timerMutex       sync.Mutex
	timerMaintenance *time.Timer
	maintenanceWG    sync.WaitGroup
	closed           bool
}

// New opens the database, creating the data directory and the table schemas
// as needed
func New(cfg Config) (*Database, error) {
	var gormDb *gorm.DB
	var err error
	gormConfig := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	if cfg.DataDir == "" {
		// A unique name keeps separate in-memory databases apart while
		// cache=shared lets the connection pool see the same data
		gormDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf(
					"file:tally-%s?mode=memory&cache=shared",
					uuid.NewString(),
				),
			),
			gormConfig,
		)
		if err != nil {
			return nil, err
		}
		// Shared-cache writers on separate connections fail with
		// SQLITE_LOCKED instead of waiting
		sqlDB, err := gormDb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dbPath := filepath.Join(cfg.DataDir, databaseFileName)
		connOpts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		gormDb, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
			gormConfig,
		)
		if err != nil {
			return nil, err
		}
	}
	d := &Database{
		logger:    cfg.Logger,
		db:        gormDb,
		dataDir:   cfg.DataDir,
		retention: cfg.OperationRetention,
		nowFunc:   time.Now,
	}
	if cfg.PromRegistry != nil {
		d.metrics = newDatabaseMetrics(cfg.PromRegistry)
	}
	if err := d.init(); err != nil {
		return nil, errors.Join(err, d.closeDB())
	}
	for _, model := range models.MigrateModels {
		d.logger.Debug(
			fmt.Sprintf("creating table: %T", model),
			"component", "database",
		)
		if err := d.db.AutoMigrate(model); err != nil {
			return nil, errors.Join(
				fmt.Errorf("migrate %T: %w", model, err),
				d.closeDB(),
			)
		}
	}
	d.scheduleMaintenance()
	return d, nil
}

func (d *Database) init() error {
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if d.retention <= 0 {
		d.retention = DefaultOperationRetention
	}
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	return nil
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Close stops the maintenance timer, waits for a running maintenance pass and
// closes the database connection
func (d *Database) Close() error {
	d.timerMutex.Lock()
	if d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	d.closed = true
	if d.timerMaintenance != nil {
		d.timerMaintenance.Stop()
		d.timerMaintenance = nil
	}
	d.timerMutex.Unlock()
	d.maintenanceWG.Wait()
	return d.closeDB()
}

func (d *Database) closeDB() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) scheduleMaintenance() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerMaintenance != nil {
		d.timerMaintenance.Stop()
	}
	d.timerMaintenance = time.AfterFunc(maintenanceInterval, func() {
		// schedule next run
		defer d.scheduleMaintenance()
		if err := d.runMaintenance(); err != nil {
			d.logger.Error(
				"database maintenance failed",
				"component", "database",
				"error", err,
			)
		}
	})
}

func (d *Database) runMaintenance() error {
	d.timerMutex.Lock()
	if d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this pass while we know the store is open
	d.maintenanceWG.Add(1)
	d.timerMutex.Unlock()
	defer d.maintenanceWG.Done()

	removed, err := d.PruneOperations(d.nowFunc().Add(-d.retention))
	if err != nil {
		return err
	}
	d.logger.Debug(
		"pruned finished operations",
		"component", "database",
		"count", removed,
	)
	if d.dataDir == "" {
		return nil
	}
	if result := d.db.Exec("VACUUM"); result.Error != nil {
		return fmt.Errorf("vacuum: %w", result.Error)
	}
	return nil
}

package database

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager owns the database connection and the tables behind spending limits and charges
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger *utils.LogsManager
}

// NewSQLiteManager opens (or creates) the database file in the app data dir
func NewSQLiteManager(cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: logger,
	}

	dbFileName := filepath.FromSlash(cm.GetConfigWithDefault("database", "x402-autopay.db"))
	path := filepath.Join(sqlm.dir, dbFileName)

	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path))
	if err != nil {
		logger.Error(fmt.Sprintf("Can not create database connection. (%s)", err.Error()), "database")
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if err := sqlm.attach(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info(fmt.Sprintf("Database opened at %s", path), "database")
	return sqlm, nil
}

// NewInMemorySQLiteManager keeps everything in a single in-memory connection
func NewInMemorySQLiteManager(cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// every new connection would get its own empty database
	db.SetMaxOpenConns(1)

	sqlm := &SQLiteManager{
		cm:     cm,
		logger: logger,
	}
	if err := sqlm.attach(db); err != nil {
		db.Close()
		return nil, err
	}
	return sqlm, nil
}

func (sqlm *SQLiteManager) attach(db *sql.DB) error {
	sqlm.db = db

	if err := sqlm.InitSpendingLimitsTable(); err != nil {
		return fmt.Errorf("failed to initialize spending_limits table: %w", err)
	}
	if err := sqlm.InitPaymentChargesTable(); err != nil {
		return fmt.Errorf("failed to initialize payment_charges table: %w", err)
	}

	return nil
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}

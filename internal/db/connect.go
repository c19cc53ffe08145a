// Package db opens the SQL databases backing the remote message store.
package db

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plaudern/plaudern/internal/models"
)

// MySQLOpts holds connection settings for a MySQL-compatible server.
type MySQLOpts struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// MySQLDSN builds a DSN with parseTime enabled and UTC timestamps.
func MySQLDSN(opts MySQLOpts) string {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ConnectMySQL opens a GORM connection pool to a MySQL-compatible server.
// No connection is made until first use, so an unreachable server is not an
// error here.
func ConnectMySQL(opts MySQLOpts) (*gorm.DB, error) {
	dialector := gormmysql.New(gormmysql.Config{
		DSN:                       MySQLDSN(opts),
		SkipInitializeWithVersion: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	return db, nil
}

// AllModels returns the GORM models owned by the remote store.
func AllModels() []interface{} {
	return []interface{}{
		&models.MessageRecord{},
	}
}

// AutoMigrate creates or updates the remote store tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}

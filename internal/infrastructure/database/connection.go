package database

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the journal database described by databaseURL. Supported
// schemes are mysql and postgres/postgresql.
func Open(databaseURL string) (*gorm.DB, error) {
	dialector, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	return db, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url cannot be empty")
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "mysql":
		dsn, err := buildMySQLDSN(parsed)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

// buildMySQLDSN converts a mysql:// URL into the go-sql-driver DSN form,
// defaulting parseTime=true and loc=UTC.
func buildMySQLDSN(parsed *url.URL) (string, error) {
	hostname := parsed.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("database url missing hostname for mysql connection")
	}

	port := parsed.Port()
	if port == "" {
		port = "3306"
	}

	databaseName := strings.TrimPrefix(parsed.Path, "/")
	if databaseName == "" {
		return "", fmt.Errorf("database url missing database name for mysql connection")
	}

	var username, password string
	var hasPassword bool
	if parsed.User != nil {
		username = parsed.User.Username()
		password, hasPassword = parsed.User.Password()
	}

	var auth string
	switch {
	case username == "" && hasPassword && password != "":
		return "", fmt.Errorf("database url provides password without username for mysql connection")
	case username != "" && password != "":
		auth = username + ":" + password + "@"
	case username != "":
		auth = username + "@"
	}

	query := parsed.Query()
	if !query.Has("parseTime") {
		query.Set("parseTime", "true")
	}
	if !query.Has("loc") {
		query.Set("loc", "UTC")
	}

	dsn := fmt.Sprintf("%stcp(%s)/%s", auth, net.JoinHostPort(hostname, port), databaseName)
	if params := query.Encode(); params != "" {
		dsn += "?" + params
	}

	return dsn, nil
}

package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the connection settings for Postgres.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the Postgres settings from the
// WEBGRAPH_DB_* environment variables.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	config := &DatabaseConfiguration{
		Host:     os.Getenv("WEBGRAPH_DB_HOST"),
		Port:     os.Getenv("WEBGRAPH_DB_PORT"),
		Database: os.Getenv("WEBGRAPH_DB_DATABASE"),
		Username: os.Getenv("WEBGRAPH_DB_USERNAME"),
		Password: os.Getenv("WEBGRAPH_DB_PASSWORD"),
		Schema:   os.Getenv("WEBGRAPH_DB_SCHEMA"),
		SSLMode:  os.Getenv("WEBGRAPH_DB_SSLMODE"),
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}
	if config.Schema == "" {
		config.Schema = "public"
	}

	if len(config.Host) == 0 || len(config.Port) == 0 || len(config.Database) == 0 || len(config.Username) == 0 || len(config.Password) == 0 {
		return nil, NewError("database configuration", fmt.Errorf("WEBGRAPH_DB_HOST, WEBGRAPH_DB_PORT, WEBGRAPH_DB_DATABASE, WEBGRAPH_DB_USERNAME and WEBGRAPH_DB_PASSWORD must be set"))
	}
	if _, err := strconv.Atoi(config.Port); err != nil {
		return nil, NewError("database port", err)
	}

	return config, nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfiguration) DSN() string {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := dsn.Query()
	q.Set("sslmode", c.SSLMode)
	q.Set("search_path", c.Schema)
	dsn.RawQuery = q.Encode()
	return dsn.String()
}

// Database wraps a Postgres connection pool with the logger of its owner.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// NewDatabase connects to Postgres. Without a configuration the returned
// Database has no Instance and handlers built on it will refuse to start.
func NewDatabase(name string, dbConfig *DatabaseConfiguration, logger *slog.Logger) *Database {
	db := &Database{
		Name:   name,
		Logger: logger,
	}
	if dbConfig == nil {
		logger.Warn("No database configuration given", slog.String("name", name))
		return db
	}

	err := db.ConnectToDatabase(dbConfig)
	if err != nil {
		logger.Error("Error connecting to database", slog.String("name", name), slog.String("error", err.Error()))
	}

	return db
}

// ConnectToDatabase opens the pool and pings it with retries.
func (d *Database) ConnectToDatabase(dbConfig *DatabaseConfiguration) error {
	instance, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return NewError("open", err)
	}

	instance.SetMaxOpenConns(25)
	instance.SetMaxIdleConns(25)
	instance.SetConnMaxLifetime(5 * time.Minute)

	var pingErr error
	for attempt := 0; attempt < 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = instance.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	if pingErr != nil {
		instance.Close()
		return NewError("ping", pingErr)
	}

	d.Instance = instance
	d.Logger.Info("Connected to database", slog.String("name", d.Name))

	return nil
}

// Close closes the underlying pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}

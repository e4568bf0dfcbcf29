// Package config loads geoduck settings from the environment, an optional
// .env file and an optional YAML file. Environment variables take precedence
// over file values, which take precedence over defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"geoduck/pkg/geom"
)

// TransferMode selects how rows move from the attached catalog into DuckDB.
type TransferMode string

const (
	// ModeCopy routes rows through the Parquet artifact.
	ModeCopy TransferMode = "copy"
	// ModeSelect creates the table straight from the attached catalog.
	ModeSelect TransferMode = "select"
)

// Default values for non-secret configuration.
const (
	DefaultDBHost       = "localhost"
	DefaultDBPort       = 5432
	DefaultDBName       = "test"
	DefaultDBUser       = "postgres"
	DefaultSourceTable  = "geom_test"
	DefaultDuckDBPath   = "duck_geom.db"
	DefaultCatalogAlias = "postgres_db"
	DefaultArtifactPath = "data.parquet"
	DefaultTargetTable  = "duckdb_geom"
	DefaultSRID         = 4326
	DefaultHTTPPort     = 8080
	DefaultFlightPort   = 50051
	DefaultLogLevel     = "info"
)

var (
	ErrInvalidInt       = errors.New("must be a valid integer")
	ErrInvalidMode      = errors.New("TRANSFER_MODE must be copy or select")
	ErrInvalidIdent     = errors.New("must be a plain SQL identifier")
	ErrMissingArtifact  = errors.New("ARTIFACT_PATH is required in copy mode")
	ErrMissingDBHost    = errors.New("DB_HOST is required")
	ErrMissingDBName    = errors.New("DB_NAME is required")
	ErrMissingDBUser    = errors.New("DB_USER is required")
	ErrInvalidPortRange = errors.New("port must be between 1 and 65535")
)

// Config holds every setting of a pipeline run and of the servers.
type Config struct {
	// Source store (PostgreSQL/PostGIS)
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	SourceTable string

	// Analytical engine (DuckDB)
	DuckDBPath   string // empty means in-memory
	CatalogAlias string
	TargetTable  string

	// Transfer
	ArtifactPath string
	Mode         TransferMode
	Format       geom.Format
	SRID         int

	// Serving
	HTTPPort   int
	FlightPort int

	LogLevel string
}

// LoadDotEnv loads a .env file into the environment. A missing file only
// produces a warning.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
}

// Load reads configuration from environment variables and an optional YAML file.
// It returns the config and the validation errors found (empty when valid).
// A config file that cannot be loaded is reported as the only error.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var errs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	intSetting := func(envKey, koanfKey string, def int) int {
		v, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	format, err := geom.ParseFormat(getEnvOrDefault("GEOMETRY_FORMAT", k.String("geometry.format"), string(geom.WKB)))
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		DBHost:      getEnvOrDefault("DB_HOST", k.String("db.host"), DefaultDBHost),
		DBPort:      intSetting("DB_PORT", "db.port", DefaultDBPort),
		DBName:      getEnvOrDefault("DB_NAME", k.String("db.name"), DefaultDBName),
		DBUser:      getEnvOrDefault("DB_USER", k.String("db.user"), DefaultDBUser),
		DBPassword:  getEnvOrDefault("DB_PASSWORD", k.String("db.password"), ""),
		SourceTable: getEnvOrDefault("SOURCE_TABLE", k.String("source.table"), DefaultSourceTable),

		DuckDBPath:   getEnvOrKoanf("DUCKDB_PATH", k, "duckdb.path", DefaultDuckDBPath),
		CatalogAlias: getEnvOrDefault("CATALOG_ALIAS", k.String("duckdb.catalog"), DefaultCatalogAlias),
		TargetTable:  getEnvOrDefault("TARGET_TABLE", k.String("duckdb.table"), DefaultTargetTable),

		ArtifactPath: getEnvOrDefault("ARTIFACT_PATH", k.String("artifact.path"), DefaultArtifactPath),
		Mode:         TransferMode(strings.ToLower(getEnvOrDefault("TRANSFER_MODE", k.String("transfer.mode"), string(ModeCopy)))),
		Format:       format,
		SRID:         intSetting("GEOMETRY_SRID", "geometry.srid", DefaultSRID),

		HTTPPort:   intSetting("HTTP_PORT", "server.http_port", DefaultHTTPPort),
		FlightPort: intSetting("FLIGHT_PORT", "server.flight_port", DefaultFlightPort),

		LogLevel: getEnvOrDefault("LOG_LEVEL", k.String("log.level"), DefaultLogLevel),
	}

	errs = append(errs, cfg.Validate()...)
	return cfg, errs
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() []error {
	var errs []error

	if c.DBHost == "" {
		errs = append(errs, ErrMissingDBHost)
	}
	if c.DBName == "" {
		errs = append(errs, ErrMissingDBName)
	}
	if c.DBUser == "" {
		errs = append(errs, ErrMissingDBUser)
	}
	for name, port := range map[string]int{"DB_PORT": c.DBPort, "HTTP_PORT": c.HTTPPort, "FLIGHT_PORT": c.FlightPort} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrInvalidPortRange))
		}
	}
	for name, ident := range map[string]string{
		"SOURCE_TABLE":  c.SourceTable,
		"CATALOG_ALIAS": c.CatalogAlias,
		"TARGET_TABLE":  c.TargetTable,
	} {
		if !IsIdentifier(ident) {
			errs = append(errs, fmt.Errorf("%s %q %w", name, ident, ErrInvalidIdent))
		}
	}
	switch c.Mode {
	case ModeCopy:
		if c.ArtifactPath == "" {
			errs = append(errs, ErrMissingArtifact)
		}
	case ModeSelect:
	default:
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidMode, c.Mode))
	}

	return errs
}

// PostgresKeywordDSN is the libpq keyword/value form DuckDB's postgres
// extension expects in ATTACH.
func (c *Config) PostgresKeywordDSN() string {
	parts := []string{
		"host=" + quoteKeywordValue(c.DBHost),
		"port=" + strconv.Itoa(c.DBPort),
		"dbname=" + quoteKeywordValue(c.DBName),
		"user=" + quoteKeywordValue(c.DBUser),
	}
	if c.DBPassword != "" {
		parts = append(parts, "password="+quoteKeywordValue(c.DBPassword))
	}
	return strings.Join(parts, " ")
}

// PostgresURL is the URL form used by pgx and goose.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	if c.DBPassword == "" {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsIdentifier reports whether s can be spliced into SQL as an unquoted name.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// quoteKeywordValue single-quotes values containing spaces or quotes, as
// libpq requires.
func quoteKeywordValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// getEnvOrKoanf returns the environment value if the variable is set (even to
// an empty string), otherwise the koanf value if present, otherwise def.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey, def string) string {
	if val, ok := os.LookupEnv(envKey); ok {
		return val
	}
	if k.Exists(koanfKey) {
		return k.String(koanfKey)
	}
	return def
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s %w", envKey, ErrInvalidInt)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

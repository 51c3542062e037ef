package eav

import (
	"time"
)

// Config consolidates settings for the attribute layer
type Config struct {
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Tables   TableNames     `json:"tables" mapstructure:"tables"`
	Entity   EntityConfig   `json:"entity" mapstructure:"entity"`
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Export   ExportConfig   `json:"export" mapstructure:"export"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Database        string        `json:"database" mapstructure:"database"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	SSLMode         string        `json:"sslMode" mapstructure:"sslmode"`
	MaxConnections  int           `json:"maxConnections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" mapstructure:"conn_max_idle_time"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`

	// UseIAMAuth replaces Password with an AWS DSQL auth token on every new connection.
	UseIAMAuth bool   `json:"useIamAuth" mapstructure:"use_iam_auth"`
	AWSRegion  string `json:"awsRegion" mapstructure:"aws_region"`
}

// TableNames names the attribute layer's own tables.
type TableNames struct {
	Schema string `json:"schema" mapstructure:"schema"`
	Choice string `json:"choice" mapstructure:"choice"`
	Attr   string `json:"attr" mapstructure:"attr"`
}

// EntityConfig contains entity management settings
type EntityConfig struct {
	// EnforceRequired rejects saves that leave a required schema without a value.
	EnforceRequired bool `json:"enforceRequired" mapstructure:"enforce_required"`
	// ValidateJSONSchema validates entity values against the generated JSON Schema on save.
	ValidateJSONSchema bool `json:"validateJsonSchema" mapstructure:"validate_json_schema"`
	BatchSize          int  `json:"batchSize" mapstructure:"batch_size"`
}

// CacheConfig controls the schema cache.
type CacheConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	SchemaTTL time.Duration `json:"schemaTTL" mapstructure:"schema_ttl"`
}

// ExportConfig contains Parquet export settings
type ExportConfig struct {
	DuckDBPath     string `json:"duckdbPath" mapstructure:"duckdb_path"` // empty means in-memory
	DuckDBMemoryMB int    `json:"duckdbMemoryMB" mapstructure:"duckdb_memory_mb"`
	DuckDBThreads  int    `json:"duckdbThreads" mapstructure:"duckdb_threads"`
	S3Bucket       string `json:"s3Bucket" mapstructure:"s3_bucket"`
	S3Prefix       string `json:"s3Prefix" mapstructure:"s3_prefix"`
	S3Region       string `json:"s3Region" mapstructure:"s3_region"`
	S3Endpoint     string `json:"s3Endpoint" mapstructure:"s3_endpoint"`
	S3AccessKey    string `json:"s3AccessKey" mapstructure:"s3_access_key"`
	S3SecretKey    string `json:"s3SecretKey" mapstructure:"s3_secret_key"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	LogQueries bool   `json:"logQueries" mapstructure:"log_queries"`
}

// Default table names created by the bundled migrations.
const (
	DefaultSchemaTable = "eav_schema"
	DefaultChoiceTable = "eav_choice"
	DefaultAttrTable   = "eav_attr"
)

// DefaultTableNames returns the table names the bundled migrations create.
func DefaultTableNames() TableNames {
	return TableNames{
		Schema: DefaultSchemaTable,
		Choice: DefaultChoiceTable,
		Attr:   DefaultAttrTable,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "eav",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Tables: DefaultTableNames(),
		Entity: EntityConfig{
			EnforceRequired:    true,
			ValidateJSONSchema: false,
			BatchSize:          500,
		},
		Cache: CacheConfig{
			Enabled:   true,
			SchemaTTL: 5 * time.Minute,
		},
		Export: ExportConfig{
			DuckDBMemoryMB: 512,
			DuckDBThreads:  2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Database.UseIAMAuth && c.Database.AWSRegion == "" {
		return &ConfigError{Field: "database.awsRegion", Message: "is required when useIamAuth is set"}
	}
	if c.Tables.Schema == "" || c.Tables.Choice == "" || c.Tables.Attr == "" {
		return &ConfigError{Field: "tables", Message: "schema, choice and attr table names are required"}
	}
	if c.Entity.BatchSize <= 0 {
		return &ConfigError{Field: "entity.batchSize", Message: "must be greater than 0"}
	}
	if c.Cache.Enabled && c.Cache.SchemaTTL < 0 {
		return &ConfigError{Field: "cache.schemaTTL", Message: "must not be negative"}
	}
	if c.Export.S3AccessKey != "" && c.Export.S3SecretKey == "" {
		return &ConfigError{Field: "export.s3SecretKey", Message: "required when s3AccessKey is set"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}

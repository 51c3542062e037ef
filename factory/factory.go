package factory

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/eav"
	"github.com/lychee-technology/eav/internal"
	"go.uber.org/zap"
)

// NewEntityManagerWithConfig creates a new EntityManager with the provided configuration and database pool.
// This is the primary way for external projects to create an EntityManager instance.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/eav"
//	    "github.com/lychee-technology/eav/factory"
//	)
//
//	config := eav.DefaultConfig()
//	pool, err := factory.NewPool(ctx, config.Database)
//	if err != nil {
//	    // handle error
//	}
//	em, err := factory.NewEntityManagerWithConfig(ctx, config, pool)
//	if err != nil {
//	    // handle error
//	}
//	err = em.RegisterEntityType(eav.EntityType{Name: "product", Table: "products"})
func NewEntityManagerWithConfig(ctx context.Context, config *eav.Config, pool *pgxpool.Pool) (eav.EntityManager, error) {
	if config == nil {
		config = eav.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}

	if err := verifyTables(ctx, pool, config.Tables); err != nil {
		return nil, err
	}
	return internal.NewEntityManager(pool, config), nil
}

func verifyTables(ctx context.Context, pool *pgxpool.Pool, tables eav.TableNames) error {
	required := []string{tables.Schema, tables.Choice, tables.Attr}
	rows, err := pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = ANY(current_schemas(false)) AND table_type = 'BASE TABLE'`)
	if err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var missing []string
	for _, name := range required {
		if !slices.Contains(found, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tables are missing in the database: %v (run eavctl migrate up)", missing)
	}
	zap.S().Debugw("attribute tables verified", "tables", required)
	return nil
}

// NewPool creates a PostgreSQL connection pool from config and pings it.
// With UseIAMAuth every new connection gets a fresh DSQL auth token as its password.
func NewPool(ctx context.Context, config eav.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(config)
	if err != nil {
		return nil, err
	}

	if config.UseIAMAuth {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
		poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate dsql auth token: %w", err)
			}
			cc.Password = token
			return nil
		}
		zap.S().Infow("using IAM auth tokens for database connections", "endpoint", endpoint, "region", awsCfg.Region)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PoolConfig translates DatabaseConfig into pgxpool settings.
func PoolConfig(config eav.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(ConnString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MinConns = int32(config.MaxIdleConns)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = config.Timeout
	return poolConfig, nil
}

// ConnString renders a postgres:// URL with escaped credentials.
func ConnString(config eav.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(config.Username, config.Password),
		Host:   net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Path:   "/" + config.Database,
	}
	q := url.Values{}
	if config.SSLMode != "" {
		q.Set("sslmode", config.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

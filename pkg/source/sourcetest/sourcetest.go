//go:build integration

// Package sourcetest starts a disposable PostGIS container for integration
// tests.
package sourcetest

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"geoduck/pkg/config"
	"geoduck/pkg/geom"
)

const Image = "postgis/postgis:16-3.4"

// Start runs a PostGIS container and returns a config pointing at it. The
// container is removed when the test ends.
func Start(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase(config.DefaultDBName),
		postgres.WithUsername(config.DefaultDBUser),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("Failed to start postgis container: %v", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return &config.Config{
		DBHost:       host,
		DBPort:       port.Int(),
		DBName:       config.DefaultDBName,
		DBUser:       config.DefaultDBUser,
		DBPassword:   "postgres",
		SourceTable:  config.DefaultSourceTable,
		CatalogAlias: config.DefaultCatalogAlias,
		TargetTable:  config.DefaultTargetTable,
		ArtifactPath: t.TempDir() + "/data.parquet",
		Mode:         config.ModeCopy,
		Format:       geom.WKB,
		SRID:         config.DefaultSRID,
		LogLevel:     config.DefaultLogLevel,
	}
}

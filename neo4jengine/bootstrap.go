package neo4jengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// BootstrapDatabase creates the necessary constraints and indexes for the
// database to be suitable for use by a digital-twin graph.
//
// Twins are keyed by their id and models by theirs; key constraints prevent
// duplicate nodes (caused by concurrent MERGEs) and back the point lookups
// every entity operation starts with.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	// we use key constraints instead of uniqueness constraints because we can
	// (they are only available in the enterprise edition).
	constraints := []string{
		`CREATE CONSTRAINT twin_id IF NOT EXISTS
		 FOR (n:` + twinLabel + `)
		 REQUIRE n.` + twinIDRef + ` IS NODE KEY`,
		`CREATE CONSTRAINT model_id IF NOT EXISTS
		 FOR (n:` + modelLabel + `)
		 REQUIRE n.id IS NODE KEY`,
	}
	for _, ddl := range constraints {
		result, err := s.Run(ctx, ddl, nil)
		if err != nil {
			return fmt.Errorf("create constraint: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("create constraint: %w", err)
		}
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jengine: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jengine: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jengine: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// create a new database if it does not exist
	_, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS
		`, map[string]interface{}{
		"name": name,
	})
	return err
}

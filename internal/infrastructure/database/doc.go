// Package database provides the agent's local SQLite store.
//
// The store is optional. When enabled it holds the command and connection
// audit trail; readings are never persisted here. Schema changes ship as
// embedded .up.sql/.down.sql pairs applied by Migrate.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database

// Package store holds the gorm models and repositories behind the
// persistence boundary: interaction rows, per-period usage aggregates and
// conversation turns.
//
// The same schema is shipped as golang-migrate SQL in internal/migration;
// AutoMigrate exists for tests and single-node sqlite deployments.
package store

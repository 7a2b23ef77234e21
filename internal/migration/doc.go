// Package migration keeps persisted entities readable across schema changes.
//
// Three registries cooperate:
//   - VersionRegistry: entity type -> current schema version (1 if never registered)
//   - TypeRegistry: (entity type, version) -> the Go shape that decodes that version
//   - Migrator: (entity type, version) -> pure transform to version+1
//
// The Migrator only ever applies one adjacent step. Set.Upgrade walks a chain
// one version at a time, and Set.Validate checks at startup that every chain
// is fully connected, so a missing step fails the process before any read.
package migration

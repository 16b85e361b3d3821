// Package store provides the SQLite persistence gateway for import runs.
//
// One Store implements every collaborator the import core needs:
//   - MetadataService: attributes and option labels
//   - ScopeService: websites and scopes
//   - IdentityLookup: natural key to entity id, batched
//   - Gateway: transactions with prefetch, bulk create and bulk write
//
// # Layout
//
// Fixed tables hold the catalog (websites, scopes, entity_types, attributes,
// attribute_options), relations and the import run log. Each entity type gets its
// own tables when defined:
//
//   - <type>_entity: entity_id, the natural key column and static columns
//   - <type>_entity_<backend>: one row per (attribute_id, scope_id, entity_id)
//
// Scope 0 is the admin scope. A reader at scope S sees the S row when present and
// the admin row otherwise.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

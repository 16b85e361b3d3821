// Package importer runs one import of entity elements end to end.
//
// An Engine is built once over a storage backend and reused across runs. Each
// Run takes a Profile (the per-run configuration) and the decoded input elements
// and drives the pipeline:
//
//  1. validate: replace attributes, scope resolution, capability items, attribute checks
//  2. identity: explicit ids, created-entity cache, one batched natural key lookup
//  3. write: scope partitions and chunk transactions
//  4. report: classification of every element and the imported entities
//
// Element failures never stop a run; they are reported per element. A failed
// chunk flush stops the run and is returned as a *writer.ChunkError alongside
// the partial report.
//
// Profiles load from CUE files, validated against the embedded #Profile schema,
// or from YAML and JSON files decoded strictly.
package importer

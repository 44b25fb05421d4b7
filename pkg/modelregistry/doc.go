/*
Package modelregistry implements the in-memory model catalog.

The catalog keeps three indices in step under a single lock: the primary
modelId → metadata map, a secondary type → set(modelId) index, and a
per-model version set holding a snapshot of each version ever put. Updates
that change a model's type migrate its index membership atomically, so every
type-index entry always resolves to a live primary entry. UpdatedAt strictly
increases across updates to the same model.

List returns entries in insertion order; callers must not rely on ordering
beyond stability within a process lifetime. The catalog is process-local;
the model manager persists metadata separately and rebuilds the catalog on
boot via Restore.
*/
package modelregistry

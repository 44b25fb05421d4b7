/*
Package modelstore implements content-addressed blob storage for model
binaries.

Blobs live under a single directory, named sha256(modelId) + ".model", so
the storage key is a pure function of the model id and re-stores overwrite
deterministically. Writes go through a temp file and rename, so readers
never observe a partial blob. Every write returns the blob's sha256
checksum; Verify recomputes it on demand for integrity checks.

The size cap is parsed from human-readable strings ("1GB", "500MB").
Unparseable input falls back to 1 GiB with a warning instead of rejecting,
so a typo in config degrades to the default cap rather than refusing boot.
*/
package modelstore

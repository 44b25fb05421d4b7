/*
Package modelmanager is the model catalog service.

Metadata lives in an in-memory registry that is written through to a
bolt database and rebuilt from it at boot, so the catalog survives
restarts. Blobs are kept in the content-addressed file store; every
write lands atomically and carries a sha256 checksum that is verified
again on read when checksum validation is enabled.

The package also ships the HTTP client workers use to pull models on a
cache miss.
*/
package modelmanager

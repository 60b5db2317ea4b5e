// Package blobstore abstracts where serialized indexes live.
//
// Built-in implementations:
//
//   - LocalStore: local filesystem, atomic writes and mmap reads
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//   - sqlite.Store: blobs kept as rows of a SQLite database
//
// Implement BlobStore to add a backend.
package blobstore

// Package s3 stores serialized indexes in Amazon S3.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = index.SerializeTo(ctx, store, "products.vgr")
//
// Small blobs are written with a single PutObject carrying a CRC32C
// checksum; larger blobs and streaming writes use multipart uploads.
// Reads are ranged GetObject calls.
package s3

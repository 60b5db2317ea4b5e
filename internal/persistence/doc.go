// Package persistence encodes graph snapshots into a self-describing binary file.
//
// A file is an 80-byte little-endian header followed by the payload:
//
//	header   magic "VGR1", version, metric, compression, build parameters,
//	         node count, seed, entry point, top level, payload lengths,
//	         CRC32C of the raw payload and CRC32C of the header itself
//	payload  count*dim float32 vectors, then for every node its level
//	         (uint8) and for every layer 0..level a uint32 degree followed
//	         by degree (uint32 id, float32 score) pairs
//
// When compressed, the payload is stored as a sequence of blocks each
// prefixed by an 8-byte block header. The checksum always covers the raw
// payload so that corruption is detected independently of compression.
package persistence

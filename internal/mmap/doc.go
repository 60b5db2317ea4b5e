// Package mmap maps persisted index files read-only into memory.
//
// # Usage
//
//	m, err := mmap.Open("index.vgr")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessSequential)
//	data := m.Bytes()
//
// # Platform Support
//
// Unix systems use mmap(2) and madvise(2). Other platforms fall back to
// reading the whole file into memory behind the same API.
//
// Bytes must not be used after Close returns.
package mmap

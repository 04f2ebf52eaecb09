// Package randread measures random-read latency over a flat file of
// fixed-width little-endian records, where the record at key k lives at byte
// offset k*Width. Five read strategies sit behind one Store interface so the
// load driver can time them against each other under the same workload.
//
// The library is organised into several files for clarity:
//
//	options.go      – configuration struct & defaults
//	store.go        – Store interface, backend names & Open
//	errors.go       – structured errors (kind + code)
//	record.go       – record codec & bounds check
//	align.go        – block alignment arithmetic
//	buffer.go       – pooled block-aligned buffers
//	layout.go       – dataset length checks & layout sidecar
//	buffered.go     – seek + read under a lock
//	pread.go        – positioned read, no shared cursor
//	direct.go       – O_DIRECT positioned read through aligned blocks
//	mmap.go         – read-only shared mapping
//	async.go        – batched submission/completion ring
//	stats.go        – lightweight read/error counters
//	dataset.go      – dataset generator & sequential verification
//
// Subpackages: ring (kernel ring driver), hist (HDR latency collector),
// load (worker driver & periodic reporter).
package randread

package randread

import (
	"fmt"
	"strings"
)

// Store is the single read capability every backend provides. A Store is
// opened once, shared by all workers of a run and closed on teardown.
//
// All implementations are safe for concurrent use.
type Store interface {
	// Get returns the record stored at key.
	Get(key uint64) (uint64, error)
	// Len returns the number of records in the dataset.
	Len() uint64
	// Backend identifies the read strategy.
	Backend() Backend
	// Stats returns a snapshot of the store's counters.
	Stats() Stats
	// Close releases the descriptor, mapping or ring held by the store.
	Close() error
}

// Backend enumerates the read strategies.
type Backend string

const (
	BackendBuffered   Backend = "buffered"
	BackendPositioned Backend = "positioned"
	BackendDirect     Backend = "direct"
	BackendMmap       Backend = "mmap"
	BackendAsyncRing  Backend = "async-ring"
)

// Backends lists every backend in a stable order.
var Backends = []Backend{
	BackendBuffered,
	BackendPositioned,
	BackendDirect,
	BackendMmap,
	BackendAsyncRing,
}

// ParseBackend maps a name (and a few common aliases) to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "buffered", "seek", "read":
		return BackendBuffered, nil
	case "positioned", "pread":
		return BackendPositioned, nil
	case "direct", "direct-positioned", "odirect":
		return BackendDirect, nil
	case "mmap", "memory-mapped":
		return BackendMmap, nil
	case "async-ring", "ring", "uring", "io_uring":
		return BackendAsyncRing, nil
	default:
		return "", invalidError("backend", fmt.Sprintf("unknown backend %q", name))
	}
}

// Async reports whether the backend completes reads on a completion queue
// rather than on the calling thread.
func (b Backend) Async() bool { return b == BackendAsyncRing }

// Open opens path with the chosen backend.
func Open(backend Backend, path string, opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch backend {
	case BackendBuffered:
		st, err = OpenBuffered(path, opts)
	case BackendPositioned:
		st, err = OpenPositioned(path, opts)
	case BackendDirect:
		st, err = OpenDirect(path, opts)
	case BackendMmap:
		st, err = OpenMmap(path, opts)
	case BackendAsyncRing:
		st, err = OpenAsyncRing(path, opts)
	default:
		return nil, invalidError("open", fmt.Sprintf("unknown backend %q", backend))
	}
	if err != nil {
		// keep a failed open from yielding a non-nil Store holding a nil pointer
		return nil, err
	}
	return st, nil
}

package randread

import "sync/atomic"

// Stats menyimpan statistik baca sebuah Store.
// ErrorRatio dalam persentase (0-100).
type Stats struct {
	Reads      uint64
	Errors     uint64
	ErrorRatio float64
}

// counters is embedded by every backend.
type counters struct {
	reads  atomic.Uint64
	errors atomic.Uint64
}

// observe counts one Get and passes err through.
func (c *counters) observe(err error) error {
	c.reads.Add(1)
	if err != nil {
		c.errors.Add(1)
	}
	return err
}

// Stats mengambil snapshot statistik tanpa lock.
func (c *counters) Stats() Stats {
	reads := c.reads.Load()
	errs := c.errors.Load()
	ratio := 0.0
	if reads > 0 {
		ratio = float64(errs) / float64(reads) * 100.0
	}
	return Stats{Reads: reads, Errors: errs, ErrorRatio: ratio}
}

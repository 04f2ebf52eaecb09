//go:build !linux

package ring

func newURing(entries int) (Driver, error) {
	return nil, ErrUnsupported
}

package randread

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// layout is the sidecar written next to a generated dataset. It records the
// geometry the file was produced with so a reader configured for a different
// width fails at open instead of returning garbage.
type layout struct {
	Width   int    `json:"width"`
	Records uint64 `json:"records"`
}

func layoutPath(path string) string { return path + ".layout.json" }

func writeLayout(path string, l layout) error {
	f, err := os.Create(layoutPath(path))
	if err != nil {
		return fmt.Errorf("create layout file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	return nil
}

// verifyLayout loads the sidecar if present and checks it against the
// options and the observed file size. A missing sidecar is not an error.
func verifyLayout(path string, size int64, opts Options) error {
	data, err := os.ReadFile(layoutPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return openError(path, CodeLayoutMismatch, "read layout sidecar", err)
	}
	var have layout
	if err := json.Unmarshal(data, &have); err != nil {
		return openError(path, CodeLayoutMismatch, "decode layout sidecar", err)
	}
	if have.Width != opts.Width {
		return openError(path, CodeLayoutMismatch,
			fmt.Sprintf("dataset width %d does not match configured width %d", have.Width, opts.Width), nil)
	}
	if want := int64(have.Records) * int64(have.Width); want != size {
		return openError(path, CodeLayoutMismatch,
			fmt.Sprintf("dataset size %d does not match layout (%d records)", size, have.Records), nil)
	}
	return nil
}

// statDataset validates the dataset geometry and returns the record count.
// When blockAligned is set the length must also be a whole number of blocks.
func statDataset(path string, opts Options, blockAligned bool) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, classifyOpen(path, err)
	}
	size := info.Size()
	if size%int64(opts.Width) != 0 {
		return 0, openError(path, CodeBadLength,
			fmt.Sprintf("length %d is not a multiple of width %d", size, opts.Width), nil)
	}
	if blockAligned && size%int64(opts.BlockWidth) != 0 {
		return 0, openError(path, CodeBadLength,
			fmt.Sprintf("length %d is not a multiple of block width %d", size, opts.BlockWidth), nil)
	}
	if err := verifyLayout(path, size, opts); err != nil {
		return 0, err
	}
	return uint64(size / int64(opts.Width)), nil
}

func classifyOpen(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return openError(path, CodeNotFound, "dataset not found", err)
	case errors.Is(err, fs.ErrPermission):
		return openError(path, CodePermission, "permission denied", err)
	default:
		return openError(path, "", "open dataset", err)
	}
}

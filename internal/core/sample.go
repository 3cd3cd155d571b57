package core

import (
	"fmt"
	"io"
	"os"
)

// Sample is a bounded prefix of a source file.
type Sample struct {
	Data      []byte
	FileSize  int64
	Truncated bool // true when Data ends before EOF
}

// ReadSample reads min(size, fileSize) bytes from the start of path.
// A size of zero or less reads the whole file.
func ReadSample(path string, size int64) (*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSampleFailed, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrSampleFailed, path, err)
	}

	n := info.Size()
	if size > 0 && size < n {
		n = size
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w %s: %w", ErrSampleFailed, path, err)
	}

	return &Sample{
		Data:      buf[:read],
		FileSize:  info.Size(),
		Truncated: int64(read) < info.Size(),
	}, nil
}

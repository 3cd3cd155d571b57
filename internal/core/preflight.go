package core

import (
	"bytes"
	"io"
	"os"
)

// binarySniffLen is how much of a file is inspected for binary content.
const binarySniffLen = 8000

// Preflight rejects files the importer cannot handle. It must pass before
// an Importer is created for path.
func Preflight(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileError(ErrFileNotFound, path)
	}

	binary, err := IsBinaryFile(path)
	if err != nil {
		return fileError(ErrFileNotFound, path)
	}
	if binary {
		return fileError(ErrBinaryFile, path)
	}
	return nil
}

// IsBinaryFile inspects the head of path for binary content.
func IsBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return looksBinary(buf[:n]), nil
}

// looksBinary reports whether data contains a NUL byte or is dominated by
// control bytes that never occur in delimited text.
func looksBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}

	suspicious := 0
	for _, b := range data {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f' && b != '\b' {
			suspicious++
		}
	}
	return suspicious*10 > len(data)*3
}

package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/csvload/internal/core"
)

// multipartMemory is how much of a multipart form is buffered in memory
// before the rest spills to disk.
const multipartMemory = 32 << 20

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// saveUpload copies the "file" part of a multipart request into the
// upload directory and returns its path. The file is world-readable so a
// database server reading server-side can open it.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", errBadRequest("file too large")
		}
		return "", errBadRequest("invalid multipart form")
	}
	// Form values stay readable after the spilled parts are removed.
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", errBadRequest("no file provided")
	}
	defer file.Close()

	if header.Size > s.cfg.Import.MaxFileSize {
		return "", errBadRequest("file too large")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if len(ext) > 8 {
		ext = ""
	}
	dst, err := os.CreateTemp(s.cfg.Import.UploadDir, "csvload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := os.Chmod(dst.Name(), 0o644); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("chmod upload file: %w", err)
	}
	return dst.Name(), nil
}

// formOptions overlays the import option fields present in the form on
// base.
func formOptions(r *http.Request, base core.ImportOptions) (core.ImportOptions, error) {
	opts := base
	if v := r.FormValue("best_effort"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errBadRequest("best_effort must be a boolean")
		}
		opts.BestEffort = b
	}
	if v := r.FormValue("locked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errBadRequest("locked must be a boolean")
		}
		opts.Locked = core.Bool(b)
	}
	if _, ok := r.MultipartForm.Value["null_string"]; ok {
		opts.NullString = r.FormValue("null_string")
	}
	if v := r.FormValue("rejects_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errBadRequest("rejects_limit must be a positive integer")
		}
		opts.RejectsLimit = n
	}
	if v := r.FormValue("sample_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return opts, errBadRequest("sample_size must be a non-negative integer")
		}
		opts.SampleSize = n
	}
	return opts, nil
}

// sniffOptions is the wire form of core.SniffOptions, with runes as
// one-character strings.
type sniffOptions struct {
	Delimiters string `json:"delimiters,omitempty"`
	Delimiter  string `json:"delimiter,omitempty"`
	Quote      string `json:"quote,omitempty"`
	Newline    string `json:"newline,omitempty"`
	HasHeader  *bool  `json:"has_header,omitempty"`
}

func (o sniffOptions) empty() bool {
	return o == sniffOptions{}
}

func (o sniffOptions) toCore() (*core.SniffOptions, error) {
	out := &core.SniffOptions{
		Delimiters: []rune(o.Delimiters),
		Newline:    o.Newline,
		HasHeader:  o.HasHeader,
	}
	var err error
	if out.Delimiter, err = singleRune("delimiter", o.Delimiter); err != nil {
		return nil, err
	}
	if out.Quote, err = singleRune("quote", o.Quote); err != nil {
		return nil, err
	}
	switch o.Newline {
	case "", "\n", "\r\n", "\r":
	default:
		return nil, errBadRequest(`newline must be "\n", "\r\n" or "\r"`)
	}
	return out, nil
}

func singleRune(field, s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, errBadRequest(field + " must be a single character")
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// formSniffOptions reads sniff overrides from a multipart form.
func formSniffOptions(r *http.Request) sniffOptions {
	o := sniffOptions{
		Delimiters: r.FormValue("delimiters"),
		Delimiter:  r.FormValue("delimiter"),
		Quote:      r.FormValue("quote"),
		Newline:    r.FormValue("newline"),
	}
	if v := r.FormValue("has_header"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.HasHeader = &b
		}
	}
	return o
}

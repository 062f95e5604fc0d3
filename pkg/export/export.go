// Package export copies finished artifacts to a user-chosen destination:
// a local path, or an object in S3 or an S3-compatible store.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Sentinel errors for export operations.
var (
	// ErrInvalidDestination indicates the destination string cannot be used.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrNotFound indicates the source file or remote object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")
)

// Error wraps a failed export with its target.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Scheme identifies the destination backend.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
)

// Destination is a parsed export target.
type Destination struct {
	Scheme Scheme
	Path   string
	Bucket string
	Key    string
}

func (d Destination) String() string {
	if d.Scheme == SchemeS3 {
		return "s3://" + d.Bucket + "/" + d.Key
	}
	return d.Path
}

// ParseDestination accepts a local path or an s3://bucket/key URI. A key
// that is empty or ends in "/" is completed with the source file name at
// copy time.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if !strings.HasPrefix(strings.ToLower(raw), "s3://") {
		return Destination{Scheme: SchemeFile, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if u.Host == "" {
		return Destination{}, fmt.Errorf("%w: bucket is required in %q", ErrInvalidDestination, raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if strings.Contains("/"+key, "/../") || strings.HasSuffix(key, "/..") {
		return Destination{}, fmt.Errorf("%w: key must not contain '..' segments", ErrInvalidDestination)
	}
	return Destination{Scheme: SchemeS3, Bucket: u.Host, Key: key}, nil
}

// ObjectPutter uploads one object. The S3 client satisfies it through
// s3Putter; tests substitute their own.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// Exporter copies artifacts.
type Exporter struct {
	s3     S3Config
	putter func(ctx context.Context, cfg S3Config) (ObjectPutter, error)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithPutterFactory replaces the S3 client constructor.
func WithPutterFactory(fn func(ctx context.Context, cfg S3Config) (ObjectPutter, error)) Option {
	return func(e *Exporter) { e.putter = fn }
}

// New returns an exporter. s3 supplies region, endpoint and credentials
// for s3:// destinations; the bucket comes from each destination.
func New(s3 S3Config, opts ...Option) *Exporter {
	e := &Exporter{
		s3: s3,
		putter: func(ctx context.Context, cfg S3Config) (ObjectPutter, error) {
			p, err := newS3Putter(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Copy copies the local file src to dest.
func (e *Exporter) Copy(ctx context.Context, src string, dest Destination) error {
	switch dest.Scheme {
	case SchemeFile:
		if err := copyFile(src, dest.Path); err != nil {
			return &Error{Op: "copy", Target: dest.Path, Err: err}
		}
		return nil
	case SchemeS3:
		return e.upload(ctx, src, dest)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDestination, dest.Scheme)
	}
}

func (e *Exporter) upload(ctx context.Context, src string, dest Destination) error {
	key := dest.Key
	if key == "" || strings.HasSuffix(key, "/") {
		key = path.Join(key, filepath.Base(src))
	}
	target := "s3://" + dest.Bucket + "/" + key

	f, err := os.Open(src)
	if err != nil {
		return &Error{Op: "upload", Target: target, Err: sourceErr(err)}
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return &Error{Op: "upload", Target: target, Err: err}
	}

	cfg := e.s3
	cfg.Bucket = dest.Bucket
	putter, err := e.putter(ctx, cfg)
	if err != nil {
		return &Error{Op: "upload", Target: target, Err: err}
	}
	if err := putter.PutObject(ctx, key, f, st.Size()); err != nil {
		return &Error{Op: "upload", Target: target, Err: err}
	}
	return nil
}

// copyFile writes src to dst through a temp file in dst's directory so a
// failed copy never leaves a truncated destination.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return sourceErr(err)
	}
	defer func() { _ = in.Close() }()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("source is a directory: %s", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, st.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func sourceErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

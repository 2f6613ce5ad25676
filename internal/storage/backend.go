// Package storage persists serialized indexes to a local directory or an S3-compatible
// bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/metrics"
	"github.com/23skdu/quiver/internal/pool"
)

var snapshotBuffers = pool.NewBytePool("snapshot")

// Backend stores named index snapshots.
type Backend interface {
	// Put stores data under name, replacing any existing snapshot. It must not
	// retain data after returning.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns a reader for the named snapshot.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns every stored snapshot name.
	List(ctx context.Context) ([]string, error)
	// Delete removes a snapshot.
	Delete(ctx context.Context, name string) error
}

// snapshotExt is appended to every stored snapshot name.
const snapshotExt = ".qvr"

// NotFoundError indicates a snapshot was not found
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot not found: %s", e.Name)
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

// Save runs write against an in-memory buffer and stores the result under name.
// Failures are reported as I/O failures.
func Save(ctx context.Context, b Backend, name string, write func(io.Writer) error) error {
	buf := snapshotBuffers.Get()
	defer snapshotBuffers.Put(buf)
	if err := write(buf); err != nil {
		return err
	}
	if err := b.Put(ctx, name, buf.Bytes()); err != nil {
		metrics.SnapshotOpsTotal.WithLabelValues(backendName(b), "put", "error").Inc()
		return qerrors.WrapIOFailure(err, "storage.Save", "store snapshot").WithContext("name", name)
	}
	metrics.SnapshotOpsTotal.WithLabelValues(backendName(b), "put", "ok").Inc()
	metrics.SnapshotSizeBytes.Observe(float64(buf.Len()))
	return nil
}

// Load opens the named snapshot and hands it to read.
func Load(ctx context.Context, b Backend, name string, read func(io.Reader) error) error {
	rc, err := b.Get(ctx, name)
	if err != nil {
		metrics.SnapshotOpsTotal.WithLabelValues(backendName(b), "get", "error").Inc()
		return qerrors.WrapIOFailure(err, "storage.Load", "open snapshot").WithContext("name", name)
	}
	defer rc.Close()
	metrics.SnapshotOpsTotal.WithLabelValues(backendName(b), "get", "ok").Inc()
	return read(rc)
}

func backendName(b Backend) string {
	switch b := b.(type) {
	case *FileBackend:
		return "file"
	case *S3Backend:
		return "s3"
	case *ResilientBackend:
		return backendName(b.inner)
	default:
		return "other"
	}
}

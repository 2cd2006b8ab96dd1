// Package remote defines the contract of the remote data service and its
// Supabase-backed implementation. Every operation may fail with a
// transport-level error (retryable) or return a payload carrying the
// service's own error channel (also retryable, as a rejected attempt).
package remote

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"

	kerrors "github.com/entrega363/kiro2/internal/errors"
)

// Record is one opaque row from a remote table.
type Record map[string]any

// ID returns the record's id column as a string, empty when absent.
func (r Record) ID() string {
	switch id := r["id"].(type) {
	case string:
		return id
	case float64:
		// PostgREST decodes numeric ids as float64.
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	default:
		return ""
	}
}

// ListQuery describes a filtered, sorted list operation.
type ListQuery struct {
	Filters   map[string]string // column -> exact-match value
	OrderBy   string            // column to sort by, empty for service order
	Ascending bool
	Limit     int // 0 means no limit
}

// UploadResult is the outcome of a binary asset upload.
type UploadResult struct {
	Path      string `json:"path"`
	PublicURL string `json:"publicUrl"`
}

// DataService is the remote data service consumed by the repositories.
type DataService interface {
	List(ctx context.Context, resource string, query ListQuery) ([]Record, error)
	Insert(ctx context.Context, resource string, record Record) (Record, error)
	Update(ctx context.Context, resource, id string, patch Record) (Record, error)
	Delete(ctx context.Context, resource, id string) error

	Upload(ctx context.Context, bucket, path string, data []byte) (*UploadResult, error)
	Remove(ctx context.Context, bucket, path string) error
}

// classify reduces a driver error to the unified taxonomy: network-level
// trouble becomes a transport failure, everything the service itself said
// "no" to becomes a remote rejection. Both are retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var kerr *kerrors.Error
	if errors.As(err, &kerr) {
		return err
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return kerrors.Timeout("REMOTE_TIMEOUT", "remote call timed out").WithOperation(op).WithCause(err)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return kerrors.Transport("NETWORK_ERROR", "remote service unreachable").WithOperation(op).WithCause(err)
	default:
		return kerrors.RemoteRejection("REMOTE_ERROR", "remote service rejected the request").WithOperation(op).WithCause(err)
	}
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	kerrors "github.com/entrega363/kiro2/internal/errors"
)

// SupabaseService implements DataService over a Supabase project: PostgREST
// tables for records and storage buckets for binary assets.
type SupabaseService struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewSupabaseService creates the adapter. Missing credentials are a
// configuration failure: fatal, never retried.
func NewSupabaseService(projectURL, serviceKey string, logger *zap.Logger) (*SupabaseService, error) {
	if projectURL == "" || serviceKey == "" {
		return nil, kerrors.Configuration("MISSING_CREDENTIALS", "supabase url and service key must be set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := supabase.NewClient(projectURL, serviceKey, nil)
	if err != nil {
		return nil, kerrors.Configuration("CLIENT_INIT_FAILED", "unable to create supabase client").WithCause(err)
	}

	return &SupabaseService{
		client: client,
		logger: logger.Named("supabase"),
	}, nil
}

// List fetches records from a table with exact-match filters and optional
// ordering.
func (s *SupabaseService) List(ctx context.Context, resource string, query ListQuery) ([]Record, error) {
	fb := s.client.From(resource).Select("*", "", false)
	for column, value := range query.Filters {
		fb = fb.Eq(column, value)
	}
	if query.OrderBy != "" {
		fb = fb.Order(query.OrderBy, &postgrest.OrderOpts{Ascending: query.Ascending})
	}
	if query.Limit > 0 {
		fb = fb.Limit(query.Limit, "")
	}

	data, _, err := fb.ExecuteString()
	if err != nil {
		return nil, classify("list:"+resource, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, kerrors.RemoteRejection("MALFORMED_RESPONSE", "remote service returned an unreadable payload").
			WithOperation("list:" + resource).
			WithCause(err)
	}
	return records, nil
}

// Insert writes one record and returns the stored representation.
func (s *SupabaseService) Insert(ctx context.Context, resource string, record Record) (Record, error) {
	data, _, err := s.client.From(resource).
		Insert(record, false, "", "representation", "").
		ExecuteString()
	if err != nil {
		return nil, classify("insert:"+resource, err)
	}
	return firstRecord(data, "insert:"+resource)
}

// Update patches the record with the given id and returns the stored
// representation.
func (s *SupabaseService) Update(ctx context.Context, resource, id string, patch Record) (Record, error) {
	data, _, err := s.client.From(resource).
		Update(patch, "representation", "").
		Eq("id", id).
		ExecuteString()
	if err != nil {
		return nil, classify("update:"+resource, err)
	}
	return firstRecord(data, "update:"+resource)
}

// Delete removes the record with the given id.
func (s *SupabaseService) Delete(ctx context.Context, resource, id string) error {
	_, _, err := s.client.From(resource).
		Delete("", "").
		Eq("id", id).
		ExecuteString()
	if err != nil {
		return classify("delete:"+resource, err)
	}
	return nil
}

// Upload stores a binary asset in a storage bucket and resolves its public
// URL.
func (s *SupabaseService) Upload(ctx context.Context, bucket, path string, data []byte) (*UploadResult, error) {
	if _, err := s.client.Storage.UploadFile(bucket, path, bytes.NewReader(data)); err != nil {
		return nil, classify("upload:"+bucket, err)
	}

	public := s.client.Storage.GetPublicUrl(bucket, path)
	return &UploadResult{
		Path:      path,
		PublicURL: public.SignedURL,
	}, nil
}

// Remove deletes a binary asset from a storage bucket.
func (s *SupabaseService) Remove(ctx context.Context, bucket, path string) error {
	if _, err := s.client.Storage.RemoveFile(bucket, []string{path}); err != nil {
		return classify("remove:"+bucket, err)
	}
	return nil
}

// firstRecord decodes a PostgREST representation payload and returns its
// first row.
func firstRecord(data, op string) (Record, error) {
	var records []Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, kerrors.RemoteRejection("MALFORMED_RESPONSE", "remote service returned an unreadable payload").
			WithOperation(op).
			WithCause(err)
	}
	if len(records) == 0 {
		return nil, kerrors.NotFound("NO_ROWS", "remote service returned no rows").WithOperation(op)
	}
	return records[0], nil
}

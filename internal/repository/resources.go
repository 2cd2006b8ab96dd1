package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	kerrors "github.com/entrega363/kiro2/internal/errors"
	"github.com/entrega363/kiro2/internal/remote"
	"github.com/entrega363/kiro2/internal/retry"
	"github.com/entrega363/kiro2/internal/strategy"
)

var validate = validator.New()

// serviceRecord is the expected shape of one service catalog row.
type serviceRecord struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" validate:"gte=0"`
	Active      bool    `json:"active"`
}

// bookingRecord is the expected shape of one booking/quote row.
type bookingRecord struct {
	CustomerName string `json:"customer_name" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	ServiceName  string `json:"service_name" validate:"required"`
	ScheduledFor string `json:"scheduled_for"`
	Notes        string `json:"notes"`
}

// galleryRecord is the expected shape of one gallery image row.
type galleryRecord struct {
	Title string `json:"title"`
	Path  string `json:"path" validate:"required"`
	URL   string `json:"url" validate:"omitempty,url"`
}

// structValidator adapts a typed struct check into a per-record Validator.
func structValidator(shape func() any) Validator {
	return func(rec remote.Record) error {
		raw, err := json.Marshal(rec)
		if err != nil {
			return kerrors.Validation("RECORD_UNSERIALIZABLE", "record cannot be serialized").WithCause(err)
		}
		target := shape()
		if err := json.Unmarshal(raw, target); err != nil {
			return kerrors.Validation("RECORD_MALFORMED", "record does not match the expected shape").WithCause(err)
		}
		if err := validate.Struct(target); err != nil {
			return kerrors.Validation("RECORD_INVALID", "record failed field validation").WithCause(err)
		}
		return nil
	}
}

// defaultServices is the built-in service catalog served when the remote
// service is unreachable and nothing is cached.
var defaultServices = []remote.Record{
	{"id": "default-1", "name": "Entrega Padrão", "description": "Entrega em até 24 horas na região", "price": 25.0, "active": true},
	{"id": "default-2", "name": "Entrega Expressa", "description": "Entrega no mesmo dia", "price": 45.0, "active": true},
	{"id": "default-3", "name": "Entrega Agendada", "description": "Escolha a data e o horário da entrega", "price": 35.0, "active": true},
}

// defaultGallery is the built-in placeholder gallery.
var defaultGallery = []remote.Record{
	{"id": "placeholder-1", "title": "Nossa equipe", "path": "placeholders/equipe.jpg", "url": ""},
	{"id": "placeholder-2", "title": "Entregas realizadas", "path": "placeholders/entregas.jpg", "url": ""},
}

// NewServices builds the service catalog repository.
func NewServices(deps Deps, cfg retry.Config) *ResourceRepository {
	return New(Definition{
		Name:  "services",
		Table: "services",
		Query: remote.ListQuery{
			Filters:   map[string]string{"active": "true"},
			OrderBy:   "name",
			Ascending: true,
		},
		Defaults: defaultServices,
		Validate: structValidator(func() any { return &serviceRecord{} }),
		Retry:    cfg,
	}, deps)
}

// NewBookings builds the bookings repository. Bookings have no meaningful
// built-in defaults; degraded reads serve an empty list and creates fall
// back to the offline queue.
func NewBookings(deps Deps, cfg retry.Config) *ResourceRepository {
	return New(Definition{
		Name:  "bookings",
		Table: "bookings",
		Query: remote.ListQuery{
			OrderBy:   "created_at",
			Ascending: false,
			Limit:     100,
		},
		Defaults: []remote.Record{},
		Validate: structValidator(func() any { return &bookingRecord{} }),
		Retry:    cfg,
	}, deps)
}

// GalleryRepository extends the record façade with binary asset operations
// against the storage bucket.
type GalleryRepository struct {
	*ResourceRepository

	bucket         string
	invalidateSoon func()
}

// NewGallery builds the gallery repository over the given storage bucket.
func NewGallery(deps Deps, cfg retry.Config, bucket string) *GalleryRepository {
	inner := New(Definition{
		Name:  "gallery",
		Table: "gallery_images",
		Query: remote.ListQuery{
			OrderBy:   "created_at",
			Ascending: false,
		},
		Defaults: defaultGallery,
		Validate: structValidator(func() any { return &galleryRecord{} }),
		Retry:    cfg,
	}, deps)

	g := &GalleryRepository{
		ResourceRepository: inner,
		bucket:             bucket,
	}
	// Upload bursts trigger one invalidation, not one per file.
	g.invalidateSoon = strategy.Debounce(func() {
		inner.engine.Cache().Invalidate(inner.def.Name)
	}, 200*time.Millisecond)

	return g
}

// UploadImage stores image bytes in the bucket, registers the record, and
// schedules a cache invalidation.
func (g *GalleryRepository) UploadImage(ctx context.Context, path, title string, data []byte) (*remote.UploadResult, error) {
	cfg := g.retryConfig().WithContext("upload:" + g.def.Name)
	value, err := g.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return g.svc.Upload(ctx, g.bucket, path, data)
	}, cfg)
	if err != nil {
		return nil, err
	}
	result := value.(*remote.UploadResult)

	if _, _, err := g.Create(ctx, remote.Record{
		"title": title,
		"path":  result.Path,
		"url":   result.PublicURL,
	}); err != nil {
		return result, err
	}

	g.invalidateSoon()
	return result, nil
}

// RemoveImage deletes the asset from the bucket and its record from the
// table.
func (g *GalleryRepository) RemoveImage(ctx context.Context, id, path string) error {
	cfg := g.retryConfig().WithContext("remove:" + g.def.Name)
	if _, err := g.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, g.svc.Remove(ctx, g.bucket, path)
	}, cfg); err != nil {
		return err
	}
	return g.Delete(ctx, id)
}

// PreloadImages warms individual image records in batches: each id is loaded
// under its own retry budget and a failing id is simply omitted.
func (g *GalleryRepository) PreloadImages(ctx context.Context, ids []string) []remote.Record {
	results := g.engine.BatchLoad(ctx, ids, func(ctx context.Context, id string) (any, error) {
		records, err := g.svc.List(ctx, g.def.Table, remote.ListQuery{
			Filters: map[string]string{"id": id},
			Limit:   1,
		})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, kerrors.NotFound("IMAGE_NOT_FOUND", "gallery image not found").WithResource(g.def.Name)
		}
		return records[0], nil
	}, strategy.BatchConfig{
		BatchSize:       3,
		InterBatchDelay: 100 * time.Millisecond,
		Retry:           g.retryConfig().WithMaxRetries(1).WithContext("preload:" + g.def.Name),
	})

	records := make([]remote.Record, 0, len(results))
	for _, r := range results {
		records = append(records, r.(remote.Record))
	}
	return records
}

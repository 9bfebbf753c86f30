package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/sokomart/api/internal/domain"
	pstorage "github.com/sokomart/api/internal/platform/storage"
	"github.com/sokomart/api/internal/repositories"
)

const (
	maxStoreImageSize      = int64(10 * 1024 * 1024) // 10 MiB
	storeImageExpiry       = 15 * time.Minute
	mediaLoggerEventIssued = "media.store_image.issued"
)

var storeImageContentTypes = []string{"image/png", "image/jpeg", "image/webp"}

var (
	// ErrMediaInvalidInput indicates the caller provided an invalid argument.
	ErrMediaInvalidInput = errors.New("media: invalid input")
	// ErrMediaStoreNotFound indicates the target store does not exist.
	ErrMediaStoreNotFound = errors.New("media: store not found")
	// ErrMediaUnavailable indicates the signer or the datastore failed.
	ErrMediaUnavailable = errors.New("media: dependency unavailable")
)

// UploadURLSigner is the slice of the storage client the service needs.
type UploadURLSigner interface {
	SignUpload(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedUpload, error)
}

// MediaServiceDeps wires dependencies for the media service implementation.
type MediaServiceDeps struct {
	Stores      repositories.StoreRepository
	Signer      UploadURLSigner
	Bucket      string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type mediaService struct {
	stores repositories.StoreRepository
	signer UploadURLSigner
	bucket string
	logger func(context.Context, string, map[string]any)
	idgen  func() string
}

// NewMediaService constructs a MediaService backed by the provided dependencies.
func NewMediaService(deps MediaServiceDeps) (MediaService, error) {
	if deps.Stores == nil {
		return nil, errors.New("media service requires a store repository")
	}
	if deps.Signer == nil {
		return nil, errors.New("media service requires an upload signer")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("media service requires a bucket")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idgen := deps.IDGenerator
	if idgen == nil {
		idgen = func() string {
			return ulid.Make().String()
		}
	}

	return &mediaService{
		stores: deps.Stores,
		signer: deps.Signer,
		bucket: strings.TrimSpace(deps.Bucket),
		logger: logger,
		idgen:  idgen,
	}, nil
}

var _ MediaService = (*mediaService)(nil)

// CreateStoreImageUpload issues a signed PUT URL for a store image. The caller
// uploads directly to the bucket; the object path is returned so the store
// record can reference it afterwards.
func (s *mediaService) CreateStoreImageUpload(ctx context.Context, cmd StoreImageUploadCommand) (MediaUpload, error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return MediaUpload{}, fmt.Errorf("%w: store id is required", ErrMediaInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		return MediaUpload{}, fmt.Errorf("%w: content type is required", ErrMediaInvalidInput)
	}
	if !storeImageContentTypeAllowed(contentType) {
		return MediaUpload{}, fmt.Errorf("%w: content type %q not allowed for store images", ErrMediaInvalidInput, contentType)
	}
	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		fileName = "image"
	}

	if _, err := s.stores.FindByID(ctx, storeID); err != nil {
		return MediaUpload{}, s.mapRepositoryError(err)
	}

	object, err := pstorage.StoreImagePath(storeID, s.idgen(), fileName)
	if err != nil {
		return MediaUpload{}, fmt.Errorf("%w: %v", ErrMediaInvalidInput, err)
	}

	result, err := s.signer.SignUpload(ctx, s.bucket, object, pstorage.UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: storeImageContentTypes,
		MaxSize:             maxStoreImageSize,
		ExpiresIn:           storeImageExpiry,
	})
	if err != nil {
		return MediaUpload{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	s.logger(ctx, mediaLoggerEventIssued, map[string]any{
		"storeId":   storeID,
		"actorId":   cmd.ActorID,
		"object":    object,
		"expiresAt": result.ExpiresAt,
	})

	return domain.MediaUpload{
		Path:        object,
		UploadURL:   result.URL,
		ContentType: contentType,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (s *mediaService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrMediaStoreNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
}

func storeImageContentTypeAllowed(contentType string) bool {
	for _, candidate := range storeImageContentTypes {
		if contentType == candidate {
			return true
		}
	}
	return false
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	pstorage "github.com/sokomart/api/internal/platform/storage"
)

type stubUploadSigner struct {
	signFn func(context.Context, string, string, pstorage.UploadOptions) (pstorage.SignedUpload, error)
}

func (s *stubUploadSigner) SignUpload(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedUpload, error) {
	if s.signFn != nil {
		return s.signFn(ctx, bucket, object, opts)
	}
	return pstorage.SignedUpload{}, errors.New("not implemented")
}

func newMediaServiceForTest(t *testing.T, stores *stubStoreRepo, signer *stubUploadSigner) MediaService {
	t.Helper()
	svc, err := NewMediaService(MediaServiceDeps{
		Stores:      stores,
		Signer:      signer,
		Bucket:      "sokomart-media",
		IDGenerator: func() string { return "upload123" },
	})
	if err != nil {
		t.Fatalf("NewMediaService returned error: %v", err)
	}
	return svc
}

func TestMediaServiceCreateStoreImageUpload(t *testing.T) {
	ctx := context.Background()
	expires := time.Date(2026, 2, 5, 9, 15, 0, 0, time.UTC)

	var gotBucket, gotObject string
	var gotOpts pstorage.UploadOptions
	signer := &stubUploadSigner{
		signFn: func(_ context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedUpload, error) {
			gotBucket = bucket
			gotObject = object
			gotOpts = opts
			return pstorage.SignedUpload{
				URL:       "https://storage.example/signed",
				Method:    "PUT",
				ExpiresAt: expires,
			}, nil
		},
	}
	svc := newMediaServiceForTest(t, existingStore("sto_1"), signer)

	upload, err := svc.CreateStoreImageUpload(ctx, StoreImageUploadCommand{
		StoreID:     "sto_1",
		FileName:    "front.png",
		ContentType: "image/png",
		ActorID:     "usr_bola",
	})
	if err != nil {
		t.Fatalf("CreateStoreImageUpload returned error: %v", err)
	}

	if gotBucket != "sokomart-media" {
		t.Fatalf("expected bucket sokomart-media, got %q", gotBucket)
	}
	if gotObject != "media/stores/sto_1/images/upload123/front.png" {
		t.Fatalf("unexpected object path %q", gotObject)
	}
	if gotOpts.ContentType != "image/png" {
		t.Fatalf("expected upload options with content type, got %+v", gotOpts)
	}
	if upload.UploadURL != "https://storage.example/signed" || upload.Path != gotObject {
		t.Fatalf("unexpected upload result: %+v", upload)
	}
	if !upload.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, upload.ExpiresAt)
	}
}

func TestMediaServiceRejectsUnknownStore(t *testing.T) {
	ctx := context.Background()
	svc := newMediaServiceForTest(t, existingStore("sto_1"), &stubUploadSigner{})

	_, err := svc.CreateStoreImageUpload(ctx, StoreImageUploadCommand{
		StoreID:     "sto_missing",
		FileName:    "front.png",
		ContentType: "image/png",
	})
	if !errors.Is(err, ErrMediaStoreNotFound) {
		t.Fatalf("expected ErrMediaStoreNotFound, got %v", err)
	}
}

func TestMediaServiceRejectsDisallowedContentType(t *testing.T) {
	ctx := context.Background()
	svc := newMediaServiceForTest(t, existingStore("sto_1"), &stubUploadSigner{})

	_, err := svc.CreateStoreImageUpload(ctx, StoreImageUploadCommand{
		StoreID:     "sto_1",
		FileName:    "video.mp4",
		ContentType: "video/mp4",
	})
	if !errors.Is(err, ErrMediaInvalidInput) {
		t.Fatalf("expected ErrMediaInvalidInput, got %v", err)
	}
}

func TestMediaServiceSignerFailure(t *testing.T) {
	ctx := context.Background()
	signer := &stubUploadSigner{
		signFn: func(context.Context, string, string, pstorage.UploadOptions) (pstorage.SignedUpload, error) {
			return pstorage.SignedUpload{}, errors.New("signer offline")
		},
	}
	svc := newMediaServiceForTest(t, existingStore("sto_1"), signer)

	_, err := svc.CreateStoreImageUpload(ctx, StoreImageUploadCommand{
		StoreID:     "sto_1",
		FileName:    "front.png",
		ContentType: "image/png",
	})
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
}

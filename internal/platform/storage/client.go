// Package storage issues the signed Cloud Storage URLs merchants use to
// upload store imagery straight from the browser, without the upload
// passing through the API.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	uploadMethod        = "PUT"
	defaultUploadExpiry = 15 * time.Minute
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
)

// Client signs upload URLs with the V4 scheme on behalf of the service
// account behind the Signer.
type Client struct {
	signer Signer
	now    func() time.Time
}

// ClientOption customises the Client.
type ClientOption func(*Client)

// WithClock overrides the time source in tests.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient builds a Client around the signer.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	client := &Client{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions constrain what the holder of the signed URL may upload.
type UploadOptions struct {
	ContentType         string
	AllowedContentTypes []string
	MaxSize             int64
	ExpiresIn           time.Duration
}

// SignedUpload is handed to the browser: the URL to PUT to and the
// headers the request must carry for the signature to match.
type SignedUpload struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignUpload creates a signed PUT URL for one object. The content type
// is pinned into the signature, and MaxSize becomes a length-range
// condition the bucket enforces.
func (c *Client) SignUpload(ctx context.Context, bucket, object string, opts UploadOptions) (SignedUpload, error) {
	if c == nil {
		return SignedUpload{}, errNoSigner
	}
	if ctx == nil {
		return SignedUpload{}, errors.New("storage: context is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedUpload{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedUpload{}, errInvalidObject
	}

	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		return SignedUpload{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedUpload{}, errContentTypeDenied
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	expiresAt := c.now().Add(expiry)

	headers := map[string]string{"Content-Type": contentType}
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         uploadMethod,
		ContentType:    contentType,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if opts.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", opts.MaxSize)
		urlOpts.Headers = []string{"x-goog-content-length-range:" + sizeRange}
		headers["x-goog-content-length-range"] = sizeRange
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedUpload{
		URL:       signedURL,
		Method:    uploadMethod,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case normalized == candidate:
			return true
		}
	}
	return false
}

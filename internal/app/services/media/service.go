// Package media stores user uploads in object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/pkg/logger"
	"github.com/nightstudio/paywall/supabase/client"
)

// MaxUploadBytes caps a single upload.
const MaxUploadBytes int64 = 50 << 20

// Bucket is the object storage the service writes to.
type Bucket interface {
	Upload(ctx context.Context, path string, data io.Reader, contentType string) (*client.Response, error)
	PublicURL(path string) string
}

// Service uploads media on behalf of users.
type Service struct {
	bucket Bucket
	log    *logger.Logger
}

func New(bucket Bucket, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("media")
	}
	return &Service{bucket: bucket, log: log}
}

// Upload is an object to store.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Object describes a stored upload.
type Object struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store writes up under <userID>/<uuid><ext> and returns its public URL.
func (s *Service) Store(ctx context.Context, userID string, up Upload) (Object, error) {
	if userID == "" {
		return Object{}, apperrors.IdentityRequired()
	}
	if up.Body == nil {
		return Object{}, apperrors.Validation("file required")
	}
	if up.Size > MaxUploadBytes {
		return Object{}, apperrors.Validation(fmt.Sprintf("file exceeds %d MiB", MaxUploadBytes>>20))
	}
	mediaType, _, err := mime.ParseMediaType(up.ContentType)
	if err != nil || !(strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")) {
		return Object{}, apperrors.Validation("only image and video uploads are accepted")
	}

	objectPath := userID + "/" + uuid.NewString() + extension(up.Filename, mediaType)
	// the limit guards against a Size that under-reports the body
	body := io.LimitReader(up.Body, MaxUploadBytes+1)
	resp, err := s.bucket.Upload(ctx, objectPath, body, mediaType)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		s.log.WithField("user_id", userID).Warnf("upload %s failed: %v", objectPath, err)
		return Object{}, apperrors.Internal("upload failed", err)
	}

	s.log.WithField("user_id", userID).Debugf("stored %s (%d bytes)", objectPath, up.Size)
	return Object{
		Path:        objectPath,
		URL:         s.bucket.PublicURL(objectPath),
		ContentType: mediaType,
		Size:        up.Size,
	}, nil
}

func extension(filename, mediaType string) string {
	if ext := strings.ToLower(path.Ext(filename)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

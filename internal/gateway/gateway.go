// Package gateway validates media, pushes it to provider storage and submits shaped
// generation requests.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var (
	ErrUpload     = errors.New("upload failed")
	ErrSubmission = errors.New("submission failed")

	// Validation failures also wrap ErrUpload.
	ErrEmptyPayload     = errors.New("media payload is empty")
	ErrTooLarge         = errors.New("media payload exceeds the size limit")
	ErrUnsupportedMedia = errors.New("media must be an image or a video")
)

const (
	familyImage = "image"
	familyVideo = "video"
)

// Gateway wraps a VideoProvider with upload limits and error normalization.
type Gateway struct {
	provider models.VideoProvider
	limits   config.UploadConfig
}

func New(provider models.VideoProvider, limits config.UploadConfig) *Gateway {
	return &Gateway{provider: provider, limits: limits}
}

// UploadMedia stores data with the provider and returns its public URL. An empty
// mimeType is replaced by the sniffed type.
func (g *Gateway) UploadMedia(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	contentType, err := g.Validate(data, mimeType)
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = "upload" + extension(data, contentType)
	}

	url, err := g.provider.Upload(ctx, data, contentType, fileName)
	if err != nil {
		slog.Warn("media upload failed", "provider", g.provider.Name(), "content_type", contentType,
			"size", len(data), "error", err)
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if url == "" {
		return "", fmt.Errorf("%w: provider returned no storage url", ErrUpload)
	}
	return url, nil
}

// Validate checks data against the configured limits and returns the content type to
// upload with. It makes no provider calls.
func (g *Gateway) Validate(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %w", ErrUpload, ErrEmptyPayload)
	}

	detected := mimetype.Detect(data)
	contentType := detected.String()
	if mimeType != "" {
		declared, _, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return "", fmt.Errorf("%w: %w: %q", ErrUpload, ErrUnsupportedMedia, mimeType)
		}
		if family(declared) != family(detected.String()) {
			return "", fmt.Errorf("%w: %w: declared %s but content is %s",
				ErrUpload, ErrUnsupportedMedia, declared, detected.String())
		}
		contentType = declared
	}

	var limit int64
	switch family(contentType) {
	case familyImage:
		limit = g.limits.MaxImageBytes
	case familyVideo:
		limit = g.limits.MaxVideoBytes
	default:
		return "", fmt.Errorf("%w: %w: got %s", ErrUpload, ErrUnsupportedMedia, contentType)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w: %w: %d bytes, max %d for %s",
			ErrUpload, ErrTooLarge, len(data), limit, family(contentType))
	}
	return contentType, nil
}

// SubmitJob enqueues one generation request on endpoint and returns the provider handle.
func (g *Gateway) SubmitJob(ctx context.Context, endpoint string, input map[string]any) (string, error) {
	handle, err := g.provider.Submit(ctx, endpoint, input)
	if err != nil {
		slog.Warn("job submission failed", "provider", g.provider.Name(), "endpoint", endpoint, "error", err)
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if handle == "" {
		return "", fmt.Errorf("%w: provider returned no handle", ErrSubmission)
	}
	return handle, nil
}

// Status and Result pass through so pollers share the gateway's provider.
func (g *Gateway) Status(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error) {
	return g.provider.Status(ctx, endpoint, handle)
}

func (g *Gateway) Result(ctx context.Context, endpoint, handle string) (models.ProviderResult, error) {
	return g.provider.Result(ctx, endpoint, handle)
}

func (g *Gateway) ProviderName() string { return g.provider.Name() }

// extension prefers the declared type; aliases mimetype does not register, such as
// image/jpg, fall back to the sniffed type.
func extension(data []byte, contentType string) string {
	if m := mimetype.Lookup(contentType); m != nil {
		return m.Extension()
	}
	return mimetype.Detect(data).Extension()
}

func family(contentType string) string {
	f, _, _ := strings.Cut(contentType, "/")
	return f
}

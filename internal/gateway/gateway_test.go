package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/internal/gateway"
	"github.com/kiranshivaraju/vista/internal/provider/mock"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
	jpgBytes = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), bytes.Repeat([]byte{0}, 64)...)
	mp4Bytes = append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), bytes.Repeat([]byte{0}, 64)...)
)

func limits() config.UploadConfig {
	return config.UploadConfig{MaxImageBytes: 1 << 10, MaxVideoBytes: 4 << 10}
}

func TestUploadMedia_Image(t *testing.T) {
	p := mock.NewMockProvider()
	var gotType, gotName string
	p.UploadFunc = func(_ context.Context, data []byte, contentType, fileName string) (string, error) {
		gotType, gotName = contentType, fileName
		return "https://cdn.example/u/" + fileName, nil
	}
	g := gateway.New(p, limits())

	url, err := g.UploadMedia(context.Background(), pngBytes, "image/png", "me.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/u/me.png", url)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, "me.png", gotName)
}

func TestUploadMedia_SniffsMissingTypeAndNamesFile(t *testing.T) {
	p := mock.NewMockProvider()
	var gotType, gotName string
	p.UploadFunc = func(_ context.Context, _ []byte, contentType, fileName string) (string, error) {
		gotType, gotName = contentType, fileName
		return "https://cdn.example/x", nil
	}
	g := gateway.New(p, limits())

	_, err := g.UploadMedia(context.Background(), mp4Bytes, "", "")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", gotType)
	assert.Equal(t, "upload.mp4", gotName)
}

func TestUploadMedia_EmptyPayload(t *testing.T) {
	p := mock.NewMockProvider()
	g := gateway.New(p, limits())

	_, err := g.UploadMedia(context.Background(), nil, "image/png", "x.png")
	assert.ErrorIs(t, err, gateway.ErrUpload)
	assert.ErrorIs(t, err, gateway.ErrEmptyPayload)
	assert.Zero(t, p.Calls("Upload"))
}

func TestUploadMedia_TooLarge(t *testing.T) {
	p := mock.NewMockProvider()
	g := gateway.New(p, limits())
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{1}, 2<<10)...)

	_, err := g.UploadMedia(context.Background(), big, "image/png", "x.png")
	assert.ErrorIs(t, err, gateway.ErrUpload)
	assert.ErrorIs(t, err, gateway.ErrTooLarge)
	assert.Zero(t, p.Calls("Upload"))
}

func TestUploadMedia_VideoHasLargerLimit(t *testing.T) {
	g := gateway.New(mock.NewMockProvider(), limits())
	video := append(append([]byte{}, mp4Bytes...), bytes.Repeat([]byte{1}, 2<<10)...)

	_, err := g.UploadMedia(context.Background(), video, "video/mp4", "clip.mp4")
	assert.NoError(t, err)
}

func TestUploadMedia_UnsupportedType(t *testing.T) {
	g := gateway.New(mock.NewMockProvider(), limits())

	_, err := g.UploadMedia(context.Background(), []byte("just some text"), "text/plain", "notes.txt")
	assert.ErrorIs(t, err, gateway.ErrUnsupportedMedia)
}

func TestUploadMedia_DeclaredTypeMismatch(t *testing.T) {
	g := gateway.New(mock.NewMockProvider(), limits())

	_, err := g.UploadMedia(context.Background(), []byte("just some text"), "image/png", "fake.png")
	assert.ErrorIs(t, err, gateway.ErrUnsupportedMedia)
}

func TestUploadMedia_ProviderError(t *testing.T) {
	g := gateway.New(mock.NewFailingProvider(models.ErrProviderUnavailable), limits())

	_, err := g.UploadMedia(context.Background(), pngBytes, "image/png", "x.png")
	assert.ErrorIs(t, err, gateway.ErrUpload)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestSubmitJob_ReturnsHandle(t *testing.T) {
	p := mock.NewScriptedProvider("H123", nil, "")
	var gotEndpoint string
	var gotInput map[string]any
	p.SubmitFunc = func(_ context.Context, endpoint string, input map[string]any) (string, error) {
		gotEndpoint, gotInput = endpoint, input
		return "H123", nil
	}
	g := gateway.New(p, limits())

	handle, err := g.SubmitJob(context.Background(), "fal-ai/kling/motion", map[string]any{"prompt": "x"})
	require.NoError(t, err)
	assert.Equal(t, "H123", handle)
	assert.Equal(t, "fal-ai/kling/motion", gotEndpoint)
	assert.Equal(t, "x", gotInput["prompt"])
}

func TestSubmitJob_KeepsProviderMessage(t *testing.T) {
	providerErr := &models.ProviderError{
		StatusCode: 422,
		Message:    "image_url is required, prompt too long",
		Kind:       models.ErrProviderRejected,
	}
	g := gateway.New(mock.NewFailingProvider(providerErr), limits())

	_, err := g.SubmitJob(context.Background(), "e", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrSubmission)
	assert.ErrorIs(t, err, models.ErrProviderRejected)
	assert.Contains(t, err.Error(), "image_url is required, prompt too long")

	var pe *models.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 422, pe.StatusCode)
}

func TestSubmitJob_EmptyHandle(t *testing.T) {
	p := mock.NewMockProvider()
	p.SubmitFunc = func(context.Context, string, map[string]any) (string, error) { return "", nil }
	g := gateway.New(p, limits())

	_, err := g.SubmitJob(context.Background(), "e", nil)
	assert.ErrorIs(t, err, gateway.ErrSubmission)
}

func TestUploadMedia_UnregisteredAliasNamesFileFromContent(t *testing.T) {
	for _, declared := range []string{"image/jpg", "image/pjpeg"} {
		t.Run(declared, func(t *testing.T) {
			p := mock.NewMockProvider()
			var gotType, gotName string
			p.UploadFunc = func(_ context.Context, _ []byte, contentType, fileName string) (string, error) {
				gotType, gotName = contentType, fileName
				return "https://cdn.example/u/" + fileName, nil
			}
			g := gateway.New(p, limits())

			url, err := g.UploadMedia(context.Background(), jpgBytes, declared, "")
			require.NoError(t, err)
			assert.Equal(t, "https://cdn.example/u/upload.jpg", url)
			assert.Equal(t, declared, gotType)
			assert.Equal(t, "upload.jpg", gotName)
		})
	}
}

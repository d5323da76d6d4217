package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/vista/internal/provider/mock"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider_CompletesImmediately(t *testing.T) {
	p := mock.NewMockProvider()
	ctx := context.Background()
	assert.Equal(t, "mock", p.Name())

	handle, err := p.Submit(ctx, "fal-ai/x", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	st, err := p.Status(ctx, "fal-ai/x", handle)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCompleted, st.State)

	res, err := p.Result(ctx, "fal-ai/x", handle)
	require.NoError(t, err)
	assert.Contains(t, res.URL, handle)
}

func TestMockProvider_CountsCalls(t *testing.T) {
	p := mock.NewMockProvider()
	_, _ = p.Status(context.Background(), "e", "h")
	_, _ = p.Status(context.Background(), "e", "h")
	assert.Equal(t, 2, p.Calls("Status"))
	assert.Equal(t, 0, p.Calls("Result"))
}

func TestNewScriptedProvider_WalksStatuses(t *testing.T) {
	pos := 4
	p := mock.NewScriptedProvider("H123", []models.ProviderStatus{
		{State: models.ProviderQueued, QueuePosition: &pos},
		{State: models.ProviderRunning},
	}, "https://x/out.mp4")
	ctx := context.Background()

	handle, err := p.Submit(ctx, "e", nil)
	require.NoError(t, err)
	assert.Equal(t, "H123", handle)

	first, _ := p.Status(ctx, "e", handle)
	second, _ := p.Status(ctx, "e", handle)
	third, _ := p.Status(ctx, "e", handle)
	assert.Equal(t, models.ProviderQueued, first.State)
	assert.Equal(t, models.ProviderRunning, second.State)
	assert.Equal(t, models.ProviderRunning, third.State)
}

func TestNewFailingProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewFailingProvider(boom)

	_, err := p.Upload(context.Background(), nil, "image/png", "x.png")
	assert.ErrorIs(t, err, boom)
	_, err = p.Submit(context.Background(), "e", nil)
	assert.ErrorIs(t, err, boom)
}

func TestNewTimeoutProvider_BlocksUntilCancelled(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Status(ctx, "e", "h")
	assert.ErrorIs(t, err, models.ErrProviderTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

package catalog_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func repoRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

func boolPtr(b bool) *bool { return &b }

// --- FileCatalog ---

func TestLoadFile_SeedCatalog(t *testing.T) {
	c, err := catalog.LoadFile(filepath.Join(repoRoot(), "templates.toml"))
	require.NoError(t, err)

	tmpl, err := c.GetTemplate(context.Background(), "bonjour-princesse")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour Princesse", tmpl.Name)
	assert.Equal(t, models.ModelKindMotionControl, tmpl.ModelKind)
	assert.Equal(t, "fal-ai/kling-video/v2.6/standard/motion-control", tmpl.ModelEndpoint)
	assert.Equal(t, "https://vista-ia.s3.eu-north-1.amazonaws.com/bjr_princesseeee.mp4",
		tmpl.RequestShape[models.ShapeMotionVideoURL])

	broom, err := c.GetTemplate(context.Background(), "balai-volant")
	require.NoError(t, err)
	assert.Equal(t, models.ModelKindImageToVideo, broom.ModelKind)
	assert.Contains(t, broom.RequestShape[models.ShapePrompt], "broomstick")

	actor, err := c.GetTemplate(context.Background(), "acteur-emma")
	require.NoError(t, err)
	assert.Equal(t, models.InputTypeVideo, actor.InputType)
	assert.Equal(t, "https://vista-ia.s3.eu-north-1.amazonaws.com/catfish-promax.jpg",
		actor.RequestShape[models.ShapeActorImageURL])
}

func TestFileCatalog_NotFound(t *testing.T) {
	c, err := catalog.NewFileCatalog(nil)
	require.NoError(t, err)

	_, err = c.GetTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestFileCatalog_Filters(t *testing.T) {
	c, err := catalog.NewFileCatalog([]models.Template{
		{ID: "a", Category: "video", IsActive: true},
		{ID: "b", Category: "video", IsActive: false},
		{ID: "c", Category: "actor", IsActive: true},
	})
	require.NoError(t, err)
	ctx := context.Background()

	all, err := c.ListTemplates(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	video, err := c.ListTemplates(ctx, catalog.Filter{Category: "video"})
	require.NoError(t, err)
	assert.Len(t, video, 2)

	activeVideo, err := c.ListTemplates(ctx, catalog.Filter{Category: "video", Active: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, activeVideo, 1)
	assert.Equal(t, "a", activeVideo[0].ID)
}

func TestFileCatalog_RejectsDuplicateIDs(t *testing.T) {
	_, err := catalog.NewFileCatalog([]models.Template{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)
}

func TestFileCatalog_ReturnsCopies(t *testing.T) {
	c, err := catalog.NewFileCatalog([]models.Template{{ID: "a", Name: "A"}})
	require.NoError(t, err)

	got, err := c.GetTemplate(context.Background(), "a")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := c.GetTemplate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Name)
}

// --- PostgresCatalog ---

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vista_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(connStr, filepath.Join(repoRoot(), "migrations")))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresCatalog_SeededTemplates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := catalog.NewPostgresCatalog(setupTestDB(t))
	ctx := context.Background()

	tmpl, err := c.GetTemplate(ctx, "dance")
	require.NoError(t, err)
	assert.Equal(t, models.ModelKindMotionControl, tmpl.ModelKind)
	assert.Equal(t, []string{"dance", "dancing", "funny", "moves"}, tmpl.Keywords)
	assert.NotEmpty(t, tmpl.RequestShape[models.ShapeMotionVideoURL])

	video, err := c.ListTemplates(ctx, catalog.Filter{Category: "video", Active: boolPtr(true)})
	require.NoError(t, err)
	assert.Len(t, video, 3)

	_, err = c.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPostgresCatalog_Upsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	c := catalog.NewPostgresCatalog(setupTestDB(t))
	ctx := context.Background()

	n, err := c.Upsert(ctx, []models.Template{{
		ID:            "dance",
		Name:          "Dance v2",
		Category:      "video",
		ModelEndpoint: "fal-ai/kling-video/v2.6/standard/motion-control",
		ModelKind:     models.ModelKindMotionControl,
		InputType:     models.InputTypeImage,
		RequestShape:  map[string]string{models.ShapeMotionVideoURL: "https://example.com/m.mp4"},
		IsActive:      false,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tmpl, err := c.GetTemplate(ctx, "dance")
	require.NoError(t, err)
	assert.Equal(t, "Dance v2", tmpl.Name)
	assert.False(t, tmpl.IsActive)
	assert.Equal(t, "https://example.com/m.mp4", tmpl.RequestShape[models.ShapeMotionVideoURL])
}

package services

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence/file"
)

func newTemplateService(t *testing.T) (*NodeTemplate, *clockwork.FakeClock) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	return NewNodeTemplate(store, clock), clock
}

func TestNodeTemplateSave(t *testing.T) {
	service, clock := newTemplateService(t)

	saved, err := service.Save(t.Context(), &models.NodeTemplate{
		Code: "  order-confirmation  ",
		Type: models.NodeTypeEmail,
		Body: "Thanks {{.name}}",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "order-confirmation", saved.Code)
	assert.Equal(t, clock.Now().UTC(), saved.CreatedAt)
	assert.Equal(t, clock.Now().UTC(), saved.UpdatedAt)

	fetched, err := service.FetchByCode(t.Context(), "order-confirmation")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, fetched.ID)
}

func TestNodeTemplateSave_ReplaceKeepsCreatedAt(t *testing.T) {
	service, clock := newTemplateService(t)

	saved, err := service.Save(t.Context(), &models.NodeTemplate{
		Code: "order-confirmation",
		Type: models.NodeTypeEmail,
		Body: "v1",
	})
	require.NoError(t, err)

	clock.Advance(time.Hour)

	saved.Body = "v2"

	replaced, err := service.Save(t.Context(), saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, replaced.ID)
	assert.Equal(t, saved.CreatedAt, replaced.CreatedAt)
	assert.Equal(t, clock.Now().UTC(), replaced.UpdatedAt)

	fetched, err := service.FetchByCode(t.Context(), "order-confirmation")
	require.NoError(t, err)
	assert.Equal(t, "v2", fetched.Body)
}

func TestNodeTemplateSave_Invalid(t *testing.T) {
	service, _ := newTemplateService(t)

	_, err := service.Save(t.Context(), &models.NodeTemplate{Code: "   ", Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = service.Save(t.Context(), &models.NodeTemplate{Code: "greeting"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = service.Save(t.Context(), nil)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestNodeTemplateFetchByCode_NotFound(t *testing.T) {
	service, _ := newTemplateService(t)

	_, err := service.FetchByCode(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNodeTemplateNotFound)
}

func TestNodeTemplateList(t *testing.T) {
	service, _ := newTemplateService(t)

	for _, code := range []string{"a-template", "b-template"} {
		_, err := service.Save(t.Context(), &models.NodeTemplate{
			Code: code,
			Type: models.NodeTypeSMS,
			Body: "body",
		})
		require.NoError(t, err)
	}

	templates, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, templates, 2)
}

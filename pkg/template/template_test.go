package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	renderer := NewRenderer(Strict)

	out, err := renderer.Render("Hello {{.name}}, your order {{.order_id}} shipped", map[string]any{
		"name":     "Ada",
		"order_id": "ord-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, your order ord-42 shipped", out)
}

func TestRenderer_RenderNestedFields(t *testing.T) {
	renderer := NewRenderer(Strict)

	out, err := renderer.Render("{{.user.email}}", map[string]any{
		"user": map[string]any{"email": "ada@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", out)
}

func TestRenderer_StrictMissingVariable(t *testing.T) {
	renderer := NewRenderer(Strict)

	_, err := renderer.Render("Hello {{.missing}}", map[string]any{"name": "Ada"})
	require.Error(t, err)

	var renderErr *RenderError

	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, "Hello {{.missing}}", renderErr.Template)
}

func TestRenderer_LenientMissingVariable(t *testing.T) {
	renderer := NewRenderer(Lenient)

	out, err := renderer.Render("Hello {{.missing}}!", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello !", out)
}

func TestRenderer_ParseError(t *testing.T) {
	renderer := NewRenderer(Strict)

	_, err := renderer.Render("Hello {{.name", nil)
	assert.Error(t, err)
}

func TestRenderer_NowFunc(t *testing.T) {
	renderer := NewRenderer(Strict)

	out, err := renderer.Render("sent at {{now}}", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out, "sent at 2")
}

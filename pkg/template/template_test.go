package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_ContactFields(t *testing.T) {
	out, err := Render("Hi {{.first_name}}, your cart is waiting", map[string]any{
		"first_name": "Ana",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, your cart is waiting", out)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("Hi {{.first_name", nil)
	assert.Error(t, err)
}

func TestRender_NoPlaceholders(t *testing.T) {
	out, err := Render("Plain subject", map[string]any{"unused": true})
	require.NoError(t, err)
	assert.Equal(t, "Plain subject", out)
}

func TestData_ContextWins(t *testing.T) {
	merged := Data(
		map[string]any{"first_name": "Ana", "plan": "free"},
		map[string]any{"plan": "premium", "cart_total": 42.5},
	)

	assert.Equal(t, "Ana", merged["first_name"])
	assert.Equal(t, "premium", merged["plan"], "enrollment snapshot is authoritative")
	assert.Equal(t, 42.5, merged["cart_total"])
}

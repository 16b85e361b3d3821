package element

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcile/internal/value"
)

func TestElementKeepsAttributeOrder(t *testing.T) {
	e := New(3)
	e.Set("sku", value.Text("a"))
	e.Set("color", value.Text("red"))
	e.Set("sku", value.Text("b"))

	assert.Equal(t, []string{"sku", "color"}, e.Codes())
	v, ok := e.Get("sku")
	require.True(t, ok)
	assert.Equal(t, value.Text("b"), v)

	e.Delete("sku")
	assert.Equal(t, []string{"color"}, e.Codes())
	assert.False(t, e.Has("sku"))
	assert.Equal(t, 1, e.Len())
}

func TestElementSetNilStoresNull(t *testing.T) {
	e := New(0)
	e.Set("color", nil)
	v, ok := e.Get("color")
	require.True(t, ok)
	assert.Equal(t, value.Null{}, v)
	assert.Equal(t, "", e.Text("color"))
}

func TestElementCloneIsIndependent(t *testing.T) {
	e := FromPairs(1, "sku", "a", "qty", 2)
	c := e.Clone()
	c.Set("store_id", value.Int(0))
	c.Delete("qty")

	assert.Equal(t, 1, c.Number)
	assert.Equal(t, []string{"sku", "qty"}, e.Codes())
	assert.Equal(t, []string{"sku", "store_id"}, c.Codes())
}

func TestElementCloneAsRenumbers(t *testing.T) {
	e := FromPairs(1, "sku", "a", "qty", 2)
	c := e.CloneAs(5)
	c.Set("qty", value.Int(3))

	assert.Equal(t, 5, c.Number)
	assert.Equal(t, 1, e.Number)
	qty, _ := e.Get("qty")
	assert.Equal(t, value.Int(2), qty)
	assert.Equal(t, e.Codes(), c.Codes())
}

func TestDecodeYAMLPreservesOrder(t *testing.T) {
	input := `
- sku: sku1
  website: {id: 1}
  color: red
  qty: 5
- sku: sku2
  price: 10.5
  tags: "a,b"
`
	elements, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, elements, 2)

	first := elements[0]
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, []string{"sku", "website", "color", "qty"}, first.Codes())
	website, _ := first.Get("website")
	assert.Equal(t, value.Object{"id": value.Int(1)}, website)
	qty, _ := first.Get("qty")
	assert.Equal(t, value.Int(5), qty)

	second := elements[1]
	assert.Equal(t, 1, second.Number)
	price, _ := second.Get("price")
	assert.Equal(t, value.Decimal(10.5), price)
}

func TestDecodeJSON(t *testing.T) {
	input := `[{"sku": "sku1", "store_id": null, "color": "red"}]`
	elements, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, []string{"sku", "store_id", "color"}, elements[0].Codes())
	storeID, _ := elements[0].Get("store_id")
	assert.Equal(t, value.Null{}, storeID)
}

func TestDecodeEmptyDocument(t *testing.T) {
	elements, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestDecodeRejectsNonSequence(t *testing.T) {
	_, err := Decode(strings.NewReader("sku: a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a sequence")

	_, err = Decode(strings.NewReader("- just a string\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a mapping")
}

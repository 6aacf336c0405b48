package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_Stable(t *testing.T) {
	data := map[string]interface{}{"id": "l1", "qty": 3.0, "price": 12.5}

	a, err := Checksum(data)
	require.NoError(t, err)
	b, err := Checksum(data)
	require.NoError(t, err)

	assert.Equal(t, a, b, "repeated calls on unchanged data must match")
}

func TestChecksum_IgnoresKeyOrder(t *testing.T) {
	// Same logical content built in different insertion orders.
	a := map[string]interface{}{}
	a["alpha"] = 1.0
	a["beta"] = "x"
	a["gamma"] = true

	b := map[string]interface{}{}
	b["gamma"] = true
	b["alpha"] = 1.0
	b["beta"] = "x"

	sumA, err := Checksum(a)
	require.NoError(t, err)
	sumB, err := Checksum(b)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
}

func TestChecksum_DiffersOnAnyKey(t *testing.T) {
	base := map[string]interface{}{"id": "l1", "qty": 3.0}
	baseSum, err := Checksum(base)
	require.NoError(t, err)

	changedValue := map[string]interface{}{"id": "l1", "qty": 4.0}
	sum, err := Checksum(changedValue)
	require.NoError(t, err)
	assert.NotEqual(t, baseSum, sum, "changed value must change the checksum")

	extraKey := map[string]interface{}{"id": "l1", "qty": 3.0, "note": ""}
	sum, err = Checksum(extraKey)
	require.NoError(t, err)
	assert.NotEqual(t, baseSum, sum, "added key must change the checksum")
}

func TestChecksum_UnsupportedValue(t *testing.T) {
	_, err := Checksum(map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}

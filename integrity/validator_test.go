package integrity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/adjustware/linesync/errors"
)

func TestValidator_NoHistory(t *testing.T) {
	v := NewValidator()
	report := v.CheckIntegrity("l1", map[string]interface{}{"qty": 1.0}, 100)
	assert.Equal(t, StatusUnknown, report.Status)
}

func TestValidator_CleanAndCorrupted(t *testing.T) {
	v := NewValidator()
	data := map[string]interface{}{"qty": 2.0, "price": 10.0}
	_, err := v.Record("l1", data, 100)
	require.NoError(t, err)

	report := v.CheckIntegrity("l1", map[string]interface{}{"qty": 2.0, "price": 10.0}, 100)
	assert.Equal(t, StatusClean, report.Status)

	report = v.CheckIntegrity("l1", map[string]interface{}{"qty": 2.0, "price": 99.0}, 100)
	assert.Equal(t, StatusCorrupted, report.Status)
	require.NotNil(t, report.LastKnownGood, "corruption must carry a rollback recommendation")
	assert.Equal(t, 10.0, report.LastKnownGood.Data["price"])
}

func TestValidator_VersionConflict(t *testing.T) {
	v := NewValidator(WithVersionTolerance(500))
	data := map[string]interface{}{"qty": 2.0}
	_, err := v.Record("l1", data, 1000)
	require.NoError(t, err)

	// Within tolerance: not a conflict even though the version moved.
	report := v.CheckIntegrity("l1", data, 1400)
	assert.Equal(t, StatusClean, report.Status)

	// Beyond tolerance: coarse staleness signal, regardless of content.
	report = v.CheckIntegrity("l1", data, 2000)
	assert.Equal(t, StatusVersionConflict, report.Status)
}

func TestValidator_BoundedHistory(t *testing.T) {
	v := NewValidator(WithMaxSnapshots(3))
	for i := 0; i < 5; i++ {
		_, err := v.Record("l1", map[string]interface{}{"rev": float64(i)}, int64(i))
		require.NoError(t, err)
	}

	history := v.History("l1")
	require.Len(t, history, 3)
	assert.Equal(t, int64(4), history[0].Version, "history must be most-recent-first")
	assert.Equal(t, int64(2), history[2].Version, "oldest surviving snapshot")
}

func TestValidator_RecordClonesData(t *testing.T) {
	v := NewValidator()
	data := map[string]interface{}{"qty": 1.0}
	_, err := v.Record("l1", data, 1)
	require.NoError(t, err)

	data["qty"] = 9.0
	snap, ok := v.LastKnownGood("l1")
	require.True(t, ok)
	assert.Equal(t, 1.0, snap.Data["qty"], "later caller mutation must not corrupt the snapshot")
}

func TestValidateData_Structural(t *testing.T) {
	v := NewValidator()

	err := v.ValidateData("", map[string]interface{}{"a": 1.0}, 1, PolicyStrict)
	assert.Equal(t, syncErrors.KindValidation, syncErrors.KindOf(err))

	err = v.ValidateData("l1", nil, 1, PolicyStrict)
	assert.Equal(t, syncErrors.KindValidation, syncErrors.KindOf(err))
}

func TestValidateData_CorruptionPolicy(t *testing.T) {
	v := NewValidator()
	_, err := v.Record("l1", map[string]interface{}{"qty": 1.0}, 1)
	require.NoError(t, err)

	drifted := map[string]interface{}{"qty": 7.0}

	err = v.ValidateData("l1", drifted, 1, PolicyStrict)
	require.Error(t, err)
	assert.Equal(t, syncErrors.SeverityCritical, syncErrors.SeverityOf(err))
	assert.False(t, syncErrors.IsRetryable(err))

	assert.NoError(t, v.ValidateData("l1", drifted, 1, PolicyClientWins))
	assert.NoError(t, v.ValidateData("l1", drifted, 1, PolicyServerWins))
}

func TestValidator_Forget(t *testing.T) {
	v := NewValidator()
	_, err := v.Record("l1", map[string]interface{}{"qty": 1.0}, 1)
	require.NoError(t, err)

	v.Forget("l1")
	_, ok := v.LastKnownGood("l1")
	assert.False(t, ok)
	assert.Equal(t, StatusUnknown, v.CheckIntegrity("l1", map[string]interface{}{"qty": 1.0}, 1).Status)
}

func TestValidator_ManyEntities(t *testing.T) {
	v := NewValidator()
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("l%d", i)
		_, err := v.Record(id, map[string]interface{}{"n": float64(i)}, int64(i))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("l%d", i)
		report := v.CheckIntegrity(id, map[string]interface{}{"n": float64(i)}, int64(i))
		assert.Equal(t, StatusClean, report.Status, id)
	}
}

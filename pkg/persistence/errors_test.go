package persistence_test

import (
	"errors"
	"testing"

	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		missing := persistence.NewStoreError("Save", "definition", "", persistence.ErrMissingID)
		corrupt := persistence.NewStoreError("FindByID", "instance", "wf-1", persistence.ErrCorruptRecord)

		assert.True(t, persistence.IsMissingID(missing))
		assert.False(t, persistence.IsMissingID(corrupt))
		assert.True(t, persistence.IsCorruptRecord(corrupt))
		assert.True(t, errors.Is(missing, persistence.ErrMissingID))
	})

	t.Run("store error contains context", func(t *testing.T) {
		err := persistence.NewStoreError("FindByHash", "bookmark", "abc123", persistence.ErrStoreClosed)

		assert.Contains(t, err.Error(), "FindByHash")
		assert.Contains(t, err.Error(), "bookmark abc123")
		assert.Contains(t, err.Error(), "store is closed")
	})

	t.Run("store error without id", func(t *testing.T) {
		err := persistence.NewStoreError("Save", "trigger", "", persistence.ErrMissingID)

		assert.Equal(t, "Save operation failed for trigger: record id is required", err.Error())
	})
}

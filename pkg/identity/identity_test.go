package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator_NewID(t *testing.T) {
	gen := UUIDGenerator{}

	first := gen.NewID()
	second := gen.NewID()

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, first, second)
}

func TestSequenceGenerator_NewID(t *testing.T) {
	gen := &SequenceGenerator{Prefix: "wf-"}

	assert.Equal(t, "wf-1", gen.NewID())
	assert.Equal(t, "wf-2", gen.NewID())
	assert.Equal(t, "wf-3", gen.NewID())
}

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameString(t *testing.T) {
	assert.Equal(t, "R0", R0.String())
	assert.Equal(t, "R1", R1.String())
	assert.Equal(t, "R2", R2.String())
	assert.Equal(t, "R3", R3.String())
	assert.Equal(t, "R?", Name(99).String())
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemainingRuns(t *testing.T) {
	assert.Equal(t, 5, remainingRuns(8, 3))
	assert.Equal(t, 0, remainingRuns(8, 8))
	assert.Equal(t, 0, remainingRuns(4, 9), "runs recorded under another preset never drive the backlog negative")
	assert.Equal(t, 0, remainingRuns(0, 0))
}

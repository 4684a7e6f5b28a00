package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnCode(t *testing.T) {
	err := InvalidInput("stability.Compute", "trust %v out of range", 120.0)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("evaluate: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))
	assert.Equal(t, CodeInvalidInput, CodeOf(wrapped))
}

func TestErrorString(t *testing.T) {
	err := NotRegistered("feed.UpdatePrice", "feed %q not registered for %s", "primary", "AAPL")
	assert.Equal(t, `NOT_REGISTERED: feed "primary" not registered for AAPL (op: feed.UpdatePrice)`, err.Error())
}

func TestLayerFailureUnwraps(t *testing.T) {
	root := errors.New("boom")
	err := LayerFailure("Contagion", root)
	assert.True(t, errors.Is(err, root))
	assert.True(t, errors.Is(err, ErrLayerFailure))
	assert.Equal(t, "LAYER_FAILURE: boom (op: Contagion)", err.Error())
	assert.Equal(t, Code(""), CodeOf(root))
}

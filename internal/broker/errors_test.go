package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := &Error{Kind: KindBelowMinNotional, Code: -1013, Op: "place order", Message: "Filter failure: NOTIONAL"}
	wrapped := fmt.Errorf("limit sell BTCUSDT: %w", base)

	assert.True(t, IsKind(wrapped, KindBelowMinNotional))
	assert.False(t, IsKind(wrapped, KindRateLimited))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindUnknown))
	assert.Contains(t, wrapped.Error(), "code -1013")
}

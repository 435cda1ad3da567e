package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfReadsThroughWrapping(t *testing.T) {
	err := New(KindNetwork, "connection refused")
	wrapped := fmt.Errorf("call upstream: %w", err)

	assert.Equal(t, KindNetwork, KindOf(wrapped))
}

func TestKindOfTreatsDeadlineAsTimeout(t *testing.T) {
	err := fmt.Errorf("slow call: %w", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestKindOfDefaultsToUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("something broke")))
}

func TestClassifyTransientKinds(t *testing.T) {
	for _, kind := range []Kind{KindNetwork, KindTimeout, KindUnavailable, KindRateLimit} {
		assert.Equal(t, Retryable, Classify(New(kind, "x")), "kind %s", kind)
	}
}

func TestClassifyPermanentKinds(t *testing.T) {
	for _, kind := range []Kind{KindValidation, KindConfig, KindAuth, KindBusinessRule} {
		assert.Equal(t, Permanent, Classify(New(kind, "x")), "kind %s", kind)
	}
}

func TestClassifyUnknownErrorsAreRetryable(t *testing.T) {
	assert.Equal(t, Retryable, Classify(errors.New("untagged")))
	assert.Equal(t, Retryable, Classify(New(Kind("made_up"), "x")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("row not found")
	err := Wrap(KindBusinessRule, cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindBusinessRule, KindOf(err))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindNetwork, nil))
}

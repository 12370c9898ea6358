package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func fastRetries(t *testing.T) {
	t.Helper()
	prev := InitialInterval
	InitialInterval = time.Millisecond
	t.Cleanup(func() { InitialInterval = prev })
}

func TestReadRetriesTransientFailures(t *testing.T) {
	fastRetries(t)
	calls := 0
	v, err := Read(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("i/o timeout")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestReadStopsAfterMaxTries(t *testing.T) {
	fastRetries(t)
	calls := 0
	_, err := Read(context.Background(), func() (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, int(MaxTries), calls)
}

func TestReadDoesNotRetryPermanentErrors(t *testing.T) {
	fastRetries(t)
	calls := 0
	_, err := Read(context.Background(), func() (int, error) {
		calls++
		return 0, errMissing
	}, errMissing)

	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, 1, calls)
}

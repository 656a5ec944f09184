package timestamp_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/ingest/timestamp"
)

func TestNormalize_SecondsHeuristic(t *testing.T) {
	ms, err := timestamp.Normalize(int64(1_700_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ms)
}

func TestNormalize_MillisPassthrough(t *testing.T) {
	ms, err := timestamp.Normalize(int64(1_700_000_000_123))
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123), ms)
}

func TestNormalize_Float(t *testing.T) {
	ms, err := timestamp.Normalize(1_700_000_000.0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ms)
}

func TestNormalize_ISO8601String(t *testing.T) {
	ms, err := timestamp.Normalize("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ms)
}

func TestNormalize_NumericString(t *testing.T) {
	ms, err := timestamp.Normalize("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), ms)
}

func TestNormalize_Unparseable(t *testing.T) {
	_, err := timestamp.Normalize("not-a-timestamp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, timestamp.ErrBadTimestamp))
}

func TestNormalize_UnsupportedType(t *testing.T) {
	_, err := timestamp.Normalize(struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, timestamp.ErrBadTimestamp))
}

func TestFloor(t *testing.T) {
	assert.Equal(t, int64(1_700_000_040_000), timestamp.Floor(1_700_000_079_999))
	assert.Equal(t, int64(1_700_000_040_000), timestamp.Floor(1_700_000_040_000))
}

func TestNormalizeFloor(t *testing.T) {
	ms, err := timestamp.NormalizeFloor(int64(1_700_000_079))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ms%60_000)
}

package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBytesRoundTrip(t *testing.T) {
	raw, err := EncodeBytes([]byte("Hello"))
	require.NoError(t, err)

	b, err := DecodeBytes(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), b)
}

func TestBytesRejectsUntaggedString(t *testing.T) {
	raw, err := json.Marshal("SGVsbG8=")
	require.NoError(t, err)

	_, err = DecodeBytes(raw)
	require.Error(t, err)
	require.ErrorContains(t, err, "tagged")
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	raw, err := EncodeTime(now)
	require.NoError(t, err)

	got, err := DecodeTime(raw)
	require.NoError(t, err)
	require.True(t, now.Equal(got))
}

func TestDurationRoundTrip(t *testing.T) {
	d := 90 * time.Second
	raw, err := EncodeDuration(d)
	require.NoError(t, err)

	got, err := DecodeDuration(raw)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

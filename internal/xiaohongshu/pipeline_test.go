package xiaohongshu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractNoteID(t *testing.T) {
	id, err := ExtractNoteID("https://www.xiaohongshu.com/explore/65f1a2b3c4d5e6f7a8b9c0d1")
	require.NoError(t, err)
	require.Equal(t, "65f1a2b3c4d5e6f7a8b9c0d1", id)
}

func TestExtractNoteIDRejectsUnrelatedURL(t *testing.T) {
	_, err := ExtractNoteID("https://example.com/not-a-note")
	require.Error(t, err)
}

func TestRandomJitterStaysInRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		j := randomJitter(2e9, 8e9) // 2s..8s in nanoseconds as time.Duration
		require.GreaterOrEqual(t, int64(j), int64(2e9))
		require.Less(t, int64(j), int64(8e9))
	}
}

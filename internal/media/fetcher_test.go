package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeBilibiliURL(t *testing.T) {
	bvID, url, err := NormalizeBilibiliURL("https://www.bilibili.com/video/BV1xx411c7mD?p=1")
	require.NoError(t, err)
	require.Equal(t, "BV1xx411c7mD", bvID)
	require.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", url)

	bvID, _, err = NormalizeBilibiliURL("BV1xx411c7mD")
	require.NoError(t, err)
	require.Equal(t, "BV1xx411c7mD", bvID)
}

func TestNormalizeBilibiliURLRejectsGarbage(t *testing.T) {
	_, _, err := NormalizeBilibiliURL("not a bilibili url")
	require.Error(t, err)
}

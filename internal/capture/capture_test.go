package capture

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/diffgate"
)

func testImage(w, h int) *diffgate.Image {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = byte(i % 256)
	}
	return &diffgate.Image{Width: w, Height: h, Pix: pix}
}

func TestEncode_DownscalesToMaxDim(t *testing.T) {
	img := testImage(1000, 500)

	data, err := Encode(img, 320, 80)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	assert.LessOrEqual(t, bounds.Dx(), 320)
	assert.LessOrEqual(t, bounds.Dy(), 320)
	assert.InDelta(t, 2.0, float64(bounds.Dx())/float64(bounds.Dy()), 0.05)
}

func TestEncode_DoesNotUpscaleSmallImages(t *testing.T) {
	img := testImage(100, 50)

	data, err := Encode(img, 320, 80)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())
}

func TestResolveTarget_NumericIDParsedDirectly(t *testing.T) {
	id, ok := ResolveTarget(nil, "12345")

	require.True(t, ok)
	assert.Equal(t, uint32(12345), id)
}

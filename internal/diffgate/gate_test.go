package diffgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func solidImage(w, h int, r, g, b byte) *Image {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = r
		pix[i*3+1] = g
		pix[i*3+2] = b
	}
	return &Image{Width: w, Height: h, Pix: pix}
}

func TestGate_FirstFrameAlwaysTrue(t *testing.T) {
	gate := New(320, 10, 0.01)
	img := solidImage(100, 100, 0, 0, 0)

	assert.True(t, gate.Observe(img))
	assert.Equal(t, 1.0, gate.LastRatio())
}

func TestGate_IdenticalFramesReturnFalse(t *testing.T) {
	gate := New(320, 10, 0.01)
	img := solidImage(100, 100, 10, 10, 10)

	require.True(t, gate.Observe(img))
	assert.False(t, gate.Observe(solidImage(100, 100, 10, 10, 10)))
}

func TestGate_ShapeChangeForcesTrue(t *testing.T) {
	gate := New(320, 10, 0.01)
	require.True(t, gate.Observe(solidImage(100, 200, 0, 0, 0)))

	assert.True(t, gate.Observe(solidImage(100, 400, 0, 0, 0)))
}

func TestGate_LargeChangeCrossesThreshold(t *testing.T) {
	gate := New(320, 10, 0.01)
	require.True(t, gate.Observe(solidImage(100, 100, 0, 0, 0)))

	assert.True(t, gate.Observe(solidImage(100, 100, 255, 255, 255)))
}

func TestGate_DoesNotMutateInput(t *testing.T) {
	gate := New(320, 10, 0.01)
	img := solidImage(50, 50, 1, 2, 3)
	original := make([]byte, len(img.Pix))
	copy(original, img.Pix)

	gate.Observe(img)

	assert.Equal(t, original, img.Pix)
}

func TestGate_ResetReturnsToEmptyState(t *testing.T) {
	gate := New(320, 10, 0.01)
	gate.Observe(solidImage(10, 10, 1, 1, 1))

	gate.Reset()

	assert.True(t, gate.Observe(solidImage(10, 10, 1, 1, 1)))
}

func TestGate_DownsampleKeepsWidthBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 2000).Draw(rt, "w")
		h := rapid.IntRange(1, 2000).Draw(rt, "h")
		gate := New(320, 10, 0.01)
		img := solidImage(w, h, 5, 5, 5)

		gate.Observe(img)

		if gate.prev.Width > 320 {
			rt.Fatalf("downsampled width %d exceeds maxWidth", gate.prev.Width)
		}
	})
}

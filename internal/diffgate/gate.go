// Package diffgate implements the pixel-diff filter between frame capture
// and vision evaluation: a cheap downsample-then-compare
// decision of whether two consecutive frames differ enough to warrant a
// vision call.
package diffgate

// Image is a row-major, three-channel pixel buffer of known dimensions.
// Gate never mutates an Image passed to it.
type Image struct {
	Width  int
	Height int
	Pix    []byte // len == Width*Height*3
}

// Gate holds the previously accepted (downsampled) frame and decides
// whether a new frame differs enough from it.
type Gate struct {
	maxWidth           int
	intensityThreshold int
	ratioThreshold     float64

	prev     *Image
	lastDiff float64
}

// New returns a Gate configured with the given thresholds.
func New(maxWidth, intensityThreshold int, ratioThreshold float64) *Gate {
	return &Gate{
		maxWidth:           maxWidth,
		intensityThreshold: intensityThreshold,
		ratioThreshold:     ratioThreshold,
	}
}

// Reset returns the gate to its empty state, as if no frame had ever been
// observed.
func (g *Gate) Reset() {
	g.prev = nil
	g.lastDiff = 0
}

// LastRatio returns the changed-pixel fraction computed by the most recent
// Observe call.
func (g *Gate) LastRatio() float64 { return g.lastDiff }

// Observe runs the four-step downsample/compare algorithm and reports whether
// the incoming frame differs enough from the stored one to warrant a vision
// call. img is never mutated.
func (g *Gate) Observe(img *Image) bool {
	down := downsample(img, g.maxWidth)

	if g.prev == nil {
		g.lastDiff = 1.0
		g.prev = down
		return true
	}

	if down.Width != g.prev.Width || down.Height != g.prev.Height {
		g.lastDiff = 1.0
		g.prev = down
		return true
	}

	ratio := diffRatio(g.prev, down, g.intensityThreshold)
	g.lastDiff = ratio
	g.prev = down
	return ratio > g.ratioThreshold
}

// downsample performs integer-stride decimation of rows and columns so the
// result's width is <= maxWidth. Returns a fresh Image; the input is
// untouched.
func downsample(img *Image, maxWidth int) *Image {
	if img.Width <= maxWidth || maxWidth <= 0 {
		out := &Image{Width: img.Width, Height: img.Height, Pix: make([]byte, len(img.Pix))}
		copy(out.Pix, img.Pix)
		return out
	}

	stride := (img.Width + maxWidth - 1) / maxWidth
	outW := (img.Width + stride - 1) / stride
	outH := (img.Height + stride - 1) / stride

	out := &Image{Width: outW, Height: outH, Pix: make([]byte, outW*outH*3)}
	for oy := 0; oy < outH; oy++ {
		sy := oy * stride
		for ox := 0; ox < outW; ox++ {
			sx := ox * stride
			srcOff := (sy*img.Width + sx) * 3
			dstOff := (oy*outW + ox) * 3
			out.Pix[dstOff] = img.Pix[srcOff]
			out.Pix[dstOff+1] = img.Pix[srcOff+1]
			out.Pix[dstOff+2] = img.Pix[srcOff+2]
		}
	}
	return out
}

// diffRatio computes the fraction of pixels whose absolute channel-sum
// difference (in signed integer space) exceeds threshold. a and b must have
// identical dimensions.
func diffRatio(a, b *Image, threshold int) float64 {
	n := a.Width * a.Height
	if n == 0 {
		return 0
	}

	changed := 0
	for i := 0; i < n; i++ {
		off := i * 3
		sumA := int(a.Pix[off]) + int(a.Pix[off+1]) + int(a.Pix[off+2])
		sumB := int(b.Pix[off]) + int(b.Pix[off+1]) + int(b.Pix[off+2])
		delta := sumA - sumB
		if delta < 0 {
			delta = -delta
		}
		if delta > threshold {
			changed++
		}
	}

	return float64(changed) / float64(n)
}

// Package capture implements the Frame Source (C2): capturing a raw pixel
// buffer from a display or a named window, encoding it, and producing
// thumbnails. Grounded on NoiseTorch's raw X11 connection handling
// (xgbutil.NewConn, ewmh window enumeration) and gio's use of
// golang.org/x/image/draw for scaling.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"golang.org/x/image/draw"

	"github.com/alxdofficial/openclaw-memoriesai/internal/diffgate"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
	"github.com/alxdofficial/openclaw-memoriesai/internal/waitjob"
)

// Conn is a live connection to one X display. Not safe for concurrent use;
// callers serialize access via the Wait Scheduler's per-display capture
// mutex at the call site.
type Conn struct {
	xu   *xgbutil.XUtil
	root xproto.Window
}

// Dial opens a connection to displayString (e.g. ":101").
func Dial(displayString string) (*Conn, error) {
	xu, err := xgbutil.NewConnDisplay(displayString)
	if err != nil {
		return nil, fmt.Errorf("connecting to display %s: %w", displayString, err)
	}
	return &Conn{xu: xu, root: xu.RootWin()}, nil
}

// Close releases the underlying X connection.
func (c *Conn) Close() {
	if c != nil && c.xu != nil {
		c.xu.Conn().Close()
	}
}

// CaptureDisplay captures the whole root window. Returns nil on any error
// a nil frame is a transient miss, not an error.
func CaptureDisplay(conn *Conn) *diffgate.Image {
	geom, err := xproto.GetGeometry(conn.xu.Conn(), xproto.Drawable(conn.root)).Reply()
	if err != nil {
		log.Warn(log.CatCapture, "get geometry failed", "error", err)
		return nil
	}
	return getImage(conn, xproto.Drawable(conn.root), geom.Width, geom.Height)
}

// CaptureWindow captures a specific window's contents.
func CaptureWindow(conn *Conn, windowID uint32) *diffgate.Image {
	w := xproto.Window(windowID)
	geom, err := xproto.GetGeometry(conn.xu.Conn(), xproto.Drawable(w)).Reply()
	if err != nil {
		log.Warn(log.CatCapture, "get window geometry failed", "windowId", windowID, "error", err)
		return nil
	}
	return getImage(conn, xproto.Drawable(w), geom.Width, geom.Height)
}

func getImage(conn *Conn, d xproto.Drawable, width, height uint16) *diffgate.Image {
	reply, err := xproto.GetImage(conn.xu.Conn(), xproto.ImageFormatZPixmap, d,
		0, 0, width, height, ^uint32(0)).Reply()
	if err != nil {
		log.Warn(log.CatCapture, "get image failed", "error", err)
		return nil
	}

	// ZPixmap data from an X server is typically 32-bit BGRX per pixel;
	// drop the padding/alpha byte and reorder to RGB.
	n := int(width) * int(height)
	if len(reply.Data) < n*4 {
		log.Warn(log.CatCapture, "get image returned short buffer")
		return nil
	}

	pix := make([]byte, n*3)
	for i := 0; i < n; i++ {
		src := reply.Data[i*4 : i*4+4]
		pix[i*3] = src[2]   // R
		pix[i*3+1] = src[1] // G
		pix[i*3+2] = src[0] // B
	}

	return &diffgate.Image{Width: int(width), Height: int(height), Pix: pix}
}

// FindWindowByName resolves a window id from a case-insensitive substring
// match against _NET_WM_NAME, using the ewmh client list the way NoiseTorch
// enumerates X clients to find its own window.
func FindWindowByName(conn *Conn, name string) (uint32, bool) {
	clients, err := ewmh.ClientListGet(conn.xu)
	if err != nil {
		log.Warn(log.CatCapture, "client list query failed", "error", err)
		return 0, false
	}

	needle := strings.ToLower(name)
	for _, w := range clients {
		wmName, err := ewmh.WmNameGet(conn.xu, w)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(wmName), needle) {
			return uint32(w), true
		}
	}
	return 0, false
}

// ResolveTarget resolves targetID to a numeric window id: if targetID
// parses as a number it is used directly, otherwise it is resolved via
// FindWindowByName.
func ResolveTarget(conn *Conn, targetID string) (uint32, bool) {
	if n, err := strconv.ParseUint(targetID, 10, 32); err == nil {
		return uint32(n), true
	}
	return FindWindowByName(conn, targetID)
}

// Encode aspect-preserving downscales img so its longer side is <= maxDim,
// then JPEG-encodes at quality (1-100).
func Encode(img *diffgate.Image, maxDim, quality int) ([]byte, error) {
	return encode(img, maxDim, quality)
}

// Thumbnail is Encode under another name; callers pass the smaller
// thumbnail maxDim and quality.
func Thumbnail(img *diffgate.Image, maxDim, quality int) ([]byte, error) {
	return encode(img, maxDim, quality)
}

func encode(img *diffgate.Image, maxDim, quality int) ([]byte, error) {
	src := toRGBA(img)

	scale := 1.0
	longer := img.Width
	if img.Height > longer {
		longer = img.Height
	}
	if longer > maxDim && maxDim > 0 {
		scale = float64(maxDim) / float64(longer)
	}

	dstW := int(float64(img.Width) * scale)
	dstH := int(float64(img.Height) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func toRGBA(img *diffgate.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i := 0; i < img.Width*img.Height; i++ {
		off := i * 3
		out.Pix[i*4] = img.Pix[off]
		out.Pix[i*4+1] = img.Pix[off+1]
		out.Pix[i*4+2] = img.Pix[off+2]
		out.Pix[i*4+3] = 0xff
	}
	return out
}

// ToFrame encodes img into a full/thumbnail Frame pair for a Job Context.
func ToFrame(img *diffgate.Image, fullMaxDim, fullQuality, thumbMaxDim, thumbQuality int, at time.Time) (*waitjob.Frame, error) {
	full, err := Encode(img, fullMaxDim, fullQuality)
	if err != nil {
		return nil, err
	}
	thumb, err := Thumbnail(img, thumbMaxDim, thumbQuality)
	if err != nil {
		return nil, err
	}
	return &waitjob.Frame{Full: full, Thumbnail: thumb, CapturedAt: at}, nil
}

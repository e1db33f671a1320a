package parser

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/session"
)

// BuildResult assembles the publishable AnalysisResult from one
// detection pass: the flattened textual summary, and a preview image
// annotated with numbered element markers and scaled so its longest
// side matches previewSize.
func BuildResult(det *Detection, screenshot []byte, previewSize int) (*session.AnalysisResult, error) {
	src, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot for preview: %w", err)
	}

	annotated := annotate(src, det.Elements, det.Shape)
	scaled := scaleToFit(annotated, previewSize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	result := &session.AnalysisResult{
		Elements: det.Elements,
		Shape:    det.Shape,
		Preview:  buf.Bytes(),
		Summary:  Summarize(det.Elements),
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Summarize flattens the element list into one line per element, in
// detection order. This is the text the calling agent reads ids from.
func Summarize(elements []session.Element) string {
	var b strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&b, "ID: %d, %s: %s\n", e.ID, e.Kind, e.Content)
	}
	return b.String()
}

// annotate draws a stroked box and a numbered label over each element.
// Bounds are in analysis-image space, which may differ from the
// screenshot's; they are rescaled per axis.
func annotate(src image.Image, elements []session.Element, shape session.ImageShape) *image.RGBA {
	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)

	if shape.Rows <= 0 || shape.Cols <= 0 {
		return rgba
	}
	scaleX := float64(rgba.Bounds().Dx()) / float64(shape.Cols)
	scaleY := float64(rgba.Bounds().Dy()) / float64(shape.Rows)

	for _, e := range elements {
		r := image.Rect(
			int(math.Round(e.Bounds.ColMin*scaleX)),
			int(math.Round(e.Bounds.RowMin*scaleY)),
			int(math.Round(e.Bounds.ColMax*scaleX)),
			int(math.Round(e.Bounds.RowMax*scaleY)),
		)
		if r.Dx() <= 1 || r.Dy() <= 1 {
			continue
		}

		stroke := markerColor(e.ID)
		strokeRect(rgba, r, stroke, 3)

		label := strconv.Itoa(e.ID)
		const digitScale = 2
		labelW := 2 + len(label)*8*digitScale + 2
		labelH := 2 + 8*digitScale + 2
		labelTop := r.Min.Y - labelH - 1
		if labelTop < 0 {
			labelTop = r.Min.Y + 1
		}
		labelRect := clampRect(image.Rect(r.Min.X, labelTop, r.Min.X+labelW, labelTop+labelH), rgba.Bounds())
		fillRect(rgba, labelRect, color.RGBA{R: stroke.R, G: stroke.G, B: stroke.B, A: 220})
		drawDigits(rgba, labelRect.Min.X+2, labelRect.Min.Y+2, label, labelTextColor(stroke), digitScale)
	}
	return rgba
}

// scaleToFit resizes img so its longest side equals size, preserving
// aspect ratio. Images already within size are returned unchanged.
// Nearest-neighbor is plenty for a preview that exists to show marker
// numbers.
func scaleToFit(img *image.RGBA, size int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if size <= 0 || (w <= size && h <= size) {
		return img
	}

	var dw, dh int
	if w > h {
		dw, dh = size, size*h/w
	} else {
		dw, dh = size*w/h, size
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		sy := y * h / dh
		for x := 0; x < dw; x++ {
			dst.Set(x, y, img.At(img.Bounds().Min.X+x*w/dw, img.Bounds().Min.Y+sy))
		}
	}
	return dst
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	for i := 0; i < thickness; i++ {
		fillRect(img, image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1), c)
		fillRect(img, image.Rect(r.Min.X, r.Max.Y-1-i, r.Max.X, r.Max.Y-i), c)
		fillRect(img, image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y), c)
		fillRect(img, image.Rect(r.Max.X-1-i, r.Min.Y, r.Max.X-i, r.Max.Y), c)
	}
}

func fillRect(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func clampRect(r, bounds image.Rectangle) image.Rectangle {
	if r.Min.X < bounds.Min.X {
		r = r.Add(image.Pt(bounds.Min.X-r.Min.X, 0))
	}
	if r.Max.X > bounds.Max.X {
		r = r.Add(image.Pt(bounds.Max.X-r.Max.X, 0))
	}
	if r.Min.Y < bounds.Min.Y {
		r = r.Add(image.Pt(0, bounds.Min.Y-r.Min.Y))
	}
	if r.Max.Y > bounds.Max.Y {
		r = r.Add(image.Pt(0, bounds.Max.Y-r.Max.Y))
	}
	return r.Intersect(bounds)
}

// drawDigits renders text's digits as seven-segment glyphs on an 8x8
// grid scaled by scale. Non-digit runes are skipped.
func drawDigits(img *image.RGBA, x, y int, text string, c color.Color, scale int) {
	if scale <= 0 {
		scale = 1
	}
	offset := 0
	for _, ch := range text {
		if ch >= '0' && ch <= '9' {
			drawDigit(img, x+offset, y, int(ch-'0'), c, scale)
			offset += 8 * scale
		}
	}
}

// segments lists, per digit, which of the seven segments are lit:
// top, upper-right, lower-right, bottom, lower-left, upper-left, middle.
var segments = [10][7]bool{
	{true, true, true, true, true, true, false},
	{false, true, true, false, false, false, false},
	{true, true, false, true, true, false, true},
	{true, true, true, true, false, false, true},
	{false, true, true, false, false, true, true},
	{true, false, true, true, false, true, true},
	{true, false, true, true, true, true, true},
	{true, true, true, false, false, false, false},
	{true, true, true, true, true, true, true},
	{true, true, true, true, false, true, true},
}

func drawDigit(img *image.RGBA, x, y, digit int, c color.Color, scale int) {
	if digit < 0 || digit > 9 {
		return
	}
	seg := func(x0, y0, x1, y1 int) {
		fillRect(img, image.Rect(x+x0*scale, y+y0*scale, x+x1*scale, y+y1*scale), c)
	}
	on := segments[digit]
	if on[0] {
		seg(1, 0, 6, 1)
	}
	if on[1] {
		seg(6, 1, 7, 4)
	}
	if on[2] {
		seg(6, 4, 7, 7)
	}
	if on[3] {
		seg(1, 7, 6, 8)
	}
	if on[4] {
		seg(0, 4, 1, 7)
	}
	if on[5] {
		seg(0, 1, 1, 4)
	}
	if on[6] {
		seg(1, 3, 6, 4)
	}
}

func markerColor(id int) color.RGBA {
	palette := []color.RGBA{
		{R: 220, G: 53, B: 69, A: 255},
		{R: 13, G: 110, B: 253, A: 255},
		{R: 25, G: 135, B: 84, A: 255},
		{R: 255, G: 140, B: 0, A: 255},
		{R: 111, G: 66, B: 193, A: 255},
		{R: 32, G: 201, B: 151, A: 255},
		{R: 214, G: 51, B: 132, A: 255},
		{R: 108, G: 117, B: 125, A: 255},
	}
	if id < 0 {
		id = -id
	}
	return palette[id%len(palette)]
}

func labelTextColor(bg color.RGBA) color.RGBA {
	brightness := int(bg.R)*299 + int(bg.G)*587 + int(bg.B)*114
	if brightness >= 140000 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}

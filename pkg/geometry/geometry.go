// Package geometry computes the source and destination rectangles for
// resizing an image into a target box, either fitting inside the box or
// cropping so the box is filled exactly. Upscaling is allowed on both paths.
//
// Everything here is pure arithmetic over integers and is safe to call from
// any number of goroutines.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Geometry describes a single resample operation: copy the source region
// (SrcX, SrcY, SrcW, SrcH) into the destination region (DstX, DstY, DstW, DstH)
// of a new DstW x DstH canvas.
type Geometry struct {
	DstX int `json:"dst_x"`
	DstY int `json:"dst_y"`
	SrcX int `json:"src_x"`
	SrcY int `json:"src_y"`
	DstW int `json:"dst_w"`
	DstH int `json:"dst_h"`
	SrcW int `json:"src_w"`
	SrcH int `json:"src_h"`
}

// Values returns the geometry as (dst_x, dst_y, src_x, src_y, dst_w, dst_h, src_w, src_h).
func (g Geometry) Values() [8]int {
	return [8]int{g.DstX, g.DstY, g.SrcX, g.SrcY, g.DstW, g.DstH, g.SrcW, g.SrcH}
}

// SrcRect returns the region of the source image to read.
func (g Geometry) SrcRect() image.Rectangle {
	return image.Rect(g.SrcX, g.SrcY, g.SrcX+g.SrcW, g.SrcY+g.SrcH)
}

// DstRect returns the region of the destination canvas to write.
func (g Geometry) DstRect() image.Rectangle {
	return image.Rect(g.DstX, g.DstY, g.DstX+g.DstW, g.DstY+g.DstH)
}

// Empty reports whether the destination has no area.
func (g Geometry) Empty() bool {
	return g.DstW <= 0 || g.DstH <= 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("dst %dx%d+%d+%d <- src %dx%d+%d+%d",
		g.DstW, g.DstH, g.DstX, g.DstY, g.SrcW, g.SrcH, g.SrcX, g.SrcY)
}

// Constrain scales currentW x currentH to fit inside maxW x maxH while keeping
// the aspect ratio. A zero max leaves that axis unbounded; when both are zero
// the dimensions are returned unchanged.
//
// The larger of the two axis ratios is tried first because it gives a snugger
// fit; the smaller one is used only when the larger would overflow the box.
func Constrain(currentW, currentH, maxW, maxH int) (int, int) {
	if maxW == 0 && maxH == 0 {
		return currentW, currentH
	}

	widthRatio, heightRatio := 1.0, 1.0
	didWidth, didHeight := false, false

	if maxW > 0 && currentW > 0 {
		widthRatio = float64(maxW) / float64(currentW)
		didWidth = true
	}
	if maxH > 0 && currentH > 0 {
		heightRatio = float64(maxH) / float64(currentH)
		didHeight = true
	}

	smallerRatio := math.Min(widthRatio, heightRatio)
	largerRatio := math.Max(widthRatio, heightRatio)

	ratio := largerRatio
	if int(float64(currentW)*largerRatio) > maxW || int(float64(currentH)*largerRatio) > maxH {
		ratio = smallerRatio
	}

	w := int(float64(currentW) * ratio)
	h := int(float64(currentH) * ratio)

	// Truncation can leave a result one pixel shy of the box (465x700 in
	// 177x177 gives 117x176); put it back on the edge.
	if didWidth && w == maxW-1 {
		w = maxW
	}
	if didHeight && h == maxH-1 {
		h = maxH
	}

	return w, h
}

// ResizeDimensions returns the geometry for resizing an origW x origH image to
// destW x destH. A zero destW or destH is derived from the other axis and the
// source aspect ratio.
//
// With crop set, the largest centered region of the source having the target
// aspect ratio is scaled to exactly destW x destH. Without crop the whole
// source is scaled to fit inside the box (see Constrain).
//
// Degenerate input never fails: a cropped resize of an image with no area, or
// with both dest dimensions zero, yields the zero Geometry.
func ResizeDimensions(origW, origH, destW, destH int, crop bool) Geometry {
	if !crop {
		newW, newH := Constrain(origW, origH, destW, destH)
		return Geometry{
			DstW: newW,
			DstH: newH,
			SrcW: origW,
			SrcH: origH,
		}
	}

	if origW <= 0 || origH <= 0 {
		return Geometry{}
	}

	aspectRatio := float64(origW) / float64(origH)
	newW, newH := destW, destH
	if newW == 0 {
		newW = int(float64(newH) * aspectRatio)
	}
	if newH == 0 {
		newH = int(float64(newW) / aspectRatio)
	}

	sizeRatio := math.Max(float64(newW)/float64(origW), float64(newH)/float64(origH))
	if sizeRatio <= 0 {
		return Geometry{}
	}

	cropW := math.Round(float64(newW) / sizeRatio)
	cropH := math.Round(float64(newH) / sizeRatio)

	srcX := math.Floor((float64(origW) - cropW) / 2)
	srcY := math.Floor((float64(origH) - cropH) / 2)

	return Geometry{
		SrcX: int(srcX),
		SrcY: int(srcY),
		DstW: newW,
		DstH: newH,
		SrcW: int(cropW),
		SrcH: int(cropH),
	}
}

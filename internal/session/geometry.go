package session

import (
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MapPoint maps the midpoint of an element's bounding box from
// analysis-image space to physical screen coordinates.
//
// The mapping is linear in each axis. padding compensates for a uniform
// margin added around the image before detection: the detector then saw
// an image of (cols+2*padding)x(rows+2*padding), so screen space is
// stretched by the same amount and shifted back by padding. Deployed
// configurations wire padding to zero, but the parameter is part of the
// contract.
//
// Fractional midpoints are rounded half away from zero (math.Round);
// truncation would bias every click up and to the left by a pixel.
func MapPoint(b Bounds, shape ImageShape, screenW, screenH, padding int) (int, int, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return 0, 0, status.Errorf(codes.FailedPrecondition, "analysis image shape %dx%d is degenerate", shape.Rows, shape.Cols)
	}

	x := int(math.Round((b.ColMin+b.ColMax)*float64(screenW+2*padding)/(2*float64(shape.Cols)))) - padding
	y := int(math.Round((b.RowMin+b.RowMax)*float64(screenH+2*padding)/(2*float64(shape.Rows)))) - padding
	return x, y, nil
}

package geometry

// AABB is an axis-aligned bounding box: xmin/xmax/ymin/ymax, inclusive on
// both ends.
type AABB struct {
	XMin float64
	XMax float64
	YMin float64
	YMax float64
}

// Contains reports whether (x, y) lies within a, inclusive on both ends.
func (a AABB) Contains(x, y float64) bool {
	return x >= a.XMin && x <= a.XMax && y >= a.YMin && y <= a.YMax
}

// Empty reports whether a is inverted on either axis (min > max). A box of
// zero width or height is not empty: it still contains the points on it.
func (a AABB) Empty() bool {
	return a.XMin > a.XMax || a.YMin > a.YMax
}

// Intersects reports whether a and b overlap (touching edges count as
// overlap).
func (a AABB) Intersects(b AABB) bool {
	if a.XMax < b.XMin || b.XMax < a.XMin {
		return false
	}
	if a.YMax < b.YMin || b.YMax < a.YMin {
		return false
	}
	return true
}

// Intersect returns the overlapping region of a and b. The result's
// Empty() is true if they do not overlap.
func (a AABB) Intersect(b AABB) AABB {
	return AABB{
		XMin: maxF(a.XMin, b.XMin),
		XMax: minF(a.XMax, b.XMax),
		YMin: maxF(a.YMin, b.YMin),
		YMax: minF(a.YMax, b.YMax),
	}
}

// Union returns the smallest AABB containing both a and b.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		XMin: minF(a.XMin, b.XMin),
		XMax: maxF(a.XMax, b.XMax),
		YMin: minF(a.YMin, b.YMin),
		YMax: maxF(a.YMax, b.YMax),
	}
}

// GridsIn enumerates every grid cell (under world w's cell size) that
// overlaps a, inclusive of cells touched by either corner.
func (a AABB) GridsIn(w World) []GridCell {
	if a.Empty() {
		return nil
	}
	lo := w.CellOf(a.XMin, a.YMin)
	hi := w.CellOf(a.XMax, a.YMax)

	cells := make([]GridCell, 0, (hi.GX-lo.GX+1)*(hi.GY-lo.GY+1))
	for gx := lo.GX; gx <= hi.GX; gx++ {
		for gy := lo.GY; gy <= hi.GY; gy++ {
			cells = append(cells, GridCell{GX: gx, GY: gy})
		}
	}
	return cells
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

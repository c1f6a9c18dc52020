package geometry

import (
	"fmt"
	"strconv"
)

// ZoneId identifies a node in the world's quadtree. It is encoded as a
// positive decimal integer: the most significant digit is always 1 (the
// root marker), and each subsequent digit in {1,2,3,4} names a quadrant of
// the parent node.
//
//	1 = +x, +y (NE)
//	2 = -x, +y (NW)
//	3 = -x, -y (SW)
//	4 = +x, -y (SE)
//
// Depth of a ZoneId is its number of decimal digits; the root has depth 1.
type ZoneId int64

// RootZone is the ZoneId covering the entire world.
const RootZone ZoneId = 1

// Depth returns the number of decimal digits in id, i.e. the zone's depth
// in the quadtree (root = 1).
func (id ZoneId) Depth() int {
	return len(strconv.FormatInt(int64(id), 10))
}

// digits returns the quadrant digits of id, most significant (root marker)
// first.
func (id ZoneId) digits() []int {
	s := strconv.FormatInt(int64(id), 10)
	out := make([]int, len(s))
	for i, r := range s {
		out[i] = int(r - '0')
	}
	return out
}

// ChildZones returns the four children of id in quadrant order (NE, NW,
// SW, SE).
func (id ZoneId) ChildZones() [4]ZoneId {
	base := int64(id) * 10
	return [4]ZoneId{ZoneId(base + 1), ZoneId(base + 2), ZoneId(base + 3), ZoneId(base + 4)}
}

// Parent returns the parent of id and true, or (0, false) if id is the
// root.
func (id ZoneId) Parent() (ZoneId, bool) {
	if id == RootZone {
		return 0, false
	}
	return ZoneId(int64(id) / 10), true
}

// IsAncestorOf reports whether ancestor's digit prefix matches descendant's,
// i.e. descendant lies within ancestor's subtree (a zone is its own
// ancestor).
func IsAncestorOf(ancestor, descendant ZoneId) bool {
	ad, dd := ancestor.digits(), descendant.digits()
	if len(ad) > len(dd) {
		return false
	}
	for i := range ad {
		if ad[i] != dd[i] {
			return false
		}
	}
	return true
}

// Siblings returns the other zones sharing id's parent, or nil if id is the
// root.
func (id ZoneId) Siblings() []ZoneId {
	parent, ok := id.Parent()
	if !ok {
		return nil
	}
	var out []ZoneId
	for _, c := range parent.ChildZones() {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

// CoordToZone descends from the root to the requested depth, halving the
// current AABB at each step and appending the quadrant digit the point
// falls into. A coordinate exactly on a split line is assigned to the
// quadrant on the +x/+y side (half-open toward +∞), per spec.md §9.
func CoordToZone(w World, x, y float64, depth int) (ZoneId, error) {
	if depth < 1 {
		return 0, fmt.Errorf("depth must be >= 1, got %d", depth)
	}
	if depth > w.MaxDepth {
		return 0, fmt.Errorf("depth %d exceeds max depth %d", depth, w.MaxDepth)
	}
	if err := w.ValidateCoord(x, y); err != nil {
		return 0, err
	}

	box := w.rootAABB()
	id := int64(RootZone)
	for d := 1; d < depth; d++ {
		digit, child := box.quadrantOf(x, y)
		id = id*10 + int64(digit)
		box = child
	}
	return ZoneId(id), nil
}

// ZoneAABB reconstructs the bounding box of id by walking its digits from
// the root, halving the world box at each step.
func ZoneAABB(w World, id ZoneId) AABB {
	box := w.rootAABB()
	digits := id.digits()
	for _, digit := range digits[1:] {
		box = box.childQuadrant(digit)
	}
	return box
}

func (w World) rootAABB() AABB {
	return AABB{XMin: w.XMin, XMax: w.XMax, YMin: w.YMin, YMax: w.YMax}
}

// quadrantOf returns the quadrant digit (x,y) falls into within this box,
// and the resulting child AABB.
func (a AABB) quadrantOf(x, y float64) (int, AABB) {
	midx := (a.XMin + a.XMax) / 2
	midy := (a.YMin + a.YMax) / 2
	plusX := x >= midx
	plusY := y >= midy

	var digit int
	switch {
	case plusX && plusY:
		digit = 1
	case !plusX && plusY:
		digit = 2
	case !plusX && !plusY:
		digit = 3
	default:
		digit = 4
	}
	return digit, a.childQuadrant(digit)
}

// childQuadrant returns the AABB of the given quadrant digit within a.
func (a AABB) childQuadrant(digit int) AABB {
	midx := (a.XMin + a.XMax) / 2
	midy := (a.YMin + a.YMax) / 2

	switch digit {
	case 1: // NE: +x, +y
		return AABB{XMin: midx, XMax: a.XMax, YMin: midy, YMax: a.YMax}
	case 2: // NW: -x, +y
		return AABB{XMin: a.XMin, XMax: midx, YMin: midy, YMax: a.YMax}
	case 3: // SW: -x, -y
		return AABB{XMin: a.XMin, XMax: midx, YMin: a.YMin, YMax: midy}
	default: // SE: +x, -y
		return AABB{XMin: midx, XMax: a.XMax, YMin: a.YMin, YMax: midy}
	}
}

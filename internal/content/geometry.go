package content

import "math"

// Region hit-testing for mission triggers. Coordinates are (lat, lng)
// degrees; distances are small enough on the game map that planar math is
// acceptable, matching how region geometry was authored.

// Contains reports whether the point lies inside the region.
func (r *RegionDef) Contains(lat, lng float64) bool {
	switch r.Shape {
	case "POINT":
		return math.Abs(lat-r.Center[0]) < 1e-6 && math.Abs(lng-r.Center[1]) < 1e-6
	case "CIRCLE":
		dLat := lat - r.Center[0]
		dLng := lng - r.Center[1]
		return math.Sqrt(dLat*dLat+dLng*dLng) <= r.Radius
	case "POLYGON":
		return pointInPolygon(lat, lng, r.Verts)
	}
	return false
}

// CrossedBy reports whether the segment from (lat1,lng1) to (lat2,lng2)
// enters the region, sampling along the path.
func (r *RegionDef) CrossedBy(lat1, lng1, lat2, lng2 float64) bool {
	const samples = 32
	for i := 0; i <= samples; i++ {
		f := float64(i) / samples
		if r.Contains(lat1+(lat2-lat1)*f, lng1+(lng2-lng1)*f) {
			return true
		}
	}
	return false
}

func pointInPolygon(lat, lng float64, verts [][]float64) bool {
	inside := false
	n := len(verts)
	j := n - 1
	for i := 0; i < n; i++ {
		yi, xi := verts[i][0], verts[i][1]
		yj, xj := verts[j][0], verts[j][1]
		if (xi > lng) != (xj > lng) &&
			lat < (yj-yi)*(lng-xi)/(xj-xi)+yi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Distance returns the planar degree distance between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// Package travel plans field team routes between gate sites. Distances are
// Haversine great circles, tours are built by cheapest insertion and
// improved by 2-opt, and a minimum spanning tree gives the lower bound the
// result is judged against.
package travel

import (
	"math"
	"time"
)

// =============================================================================
// Distance Model
// =============================================================================

const (
	// EarthRadiusKm is the mean Earth radius used by the Haversine formula.
	EarthRadiusKm = 6371.0

	// DefaultSpeedKmh is the assumed average travel speed between gates.
	DefaultSpeedKmh = 40.0

	// ServiceTime is the time a crew spends operating one gate.
	ServiceTime = 15 * time.Minute

	// MSTAcceptFactor bounds an acceptable route length relative to the
	// spanning tree lower bound.
	MSTAcceptFactor = 1.2
)

// Stop is one site a team must visit, optionally time-windowed.
type Stop struct {
	ID  string
	Lat float64
	Lng float64

	// WindowStart and WindowEnd constrain the service start. Zero values
	// mean the stop is unconstrained.
	WindowStart time.Time
	WindowEnd   time.Time
}

// Haversine returns the great-circle distance between two points in km.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// distanceMatrix returns pairwise distances with the depot at index 0.
func distanceMatrix(depot Stop, stops []Stop) [][]float64 {
	pts := make([]Stop, 0, len(stops)+1)
	pts = append(pts, depot)
	pts = append(pts, stops...)

	n := len(pts)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			if i != j {
				d[i][j] = Haversine(pts[i].Lat, pts[i].Lng, pts[j].Lat, pts[j].Lng)
			}
		}
	}
	return d
}

// =============================================================================
// Route Construction
// =============================================================================

// Route is a planned visit order for one team and day. Routes are open:
// the team departs the base and ends at the last gate.
type Route struct {
	// Order lists stop ids in visit order, base excluded.
	Order []string

	DistanceKm   float64
	TravelTime   time.Duration
	LowerBoundKm float64

	// WithinBound reports whether the route length is within
	// MSTAcceptFactor of the spanning tree lower bound.
	WithinBound bool

	// Arrivals is the planned service start per stop. Populated by
	// PlanRouteWindows.
	Arrivals map[string]time.Time

	// Feasible is false when some time window cannot be met.
	Feasible bool
}

// PlanRoute orders the stops by cheapest insertion from the base, improves
// the order with 2-opt, and scores it against the MST lower bound.
func PlanRoute(base Stop, stops []Stop, speedKmh float64) *Route {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if len(stops) == 0 {
		return &Route{WithinBound: true, Feasible: true}
	}

	d := distanceMatrix(base, stops)
	path := cheapestInsertion(d)
	path = twoOpt(d, path)

	dist := pathLength(d, path)
	lower := mstWeight(d)

	order := make([]string, 0, len(stops))
	for _, idx := range path[1:] {
		order = append(order, stops[idx-1].ID)
	}

	return &Route{
		Order:        order,
		DistanceKm:   dist,
		TravelTime:   travelDuration(dist, speedKmh),
		LowerBoundKm: lower,
		WithinBound:  dist <= MSTAcceptFactor*lower,
		Feasible:     true,
	}
}

// cheapestInsertion builds an open path over the matrix indices starting at
// the depot (index 0).
func cheapestInsertion(d [][]float64) []int {
	n := len(d)
	path := []int{0}
	used := make([]bool, n)
	used[0] = true

	for len(path) < n {
		bestStop, bestPos := -1, -1
		bestCost := math.Inf(1)

		for s := 1; s < n; s++ {
			if used[s] {
				continue
			}
			// Insertion between path[p-1] and path[p], or appended at
			// the open end (p == len(path)).
			for p := 1; p <= len(path); p++ {
				var cost float64
				if p == len(path) {
					cost = d[path[p-1]][s]
				} else {
					cost = d[path[p-1]][s] + d[s][path[p]] - d[path[p-1]][path[p]]
				}
				if cost < bestCost {
					bestCost, bestStop, bestPos = cost, s, p
				}
			}
		}

		path = append(path, 0)
		copy(path[bestPos+1:], path[bestPos:])
		path[bestPos] = bestStop
		used[bestStop] = true
	}
	return path
}

// twoOpt reverses path segments while doing so shortens the route. The
// depot stays fixed at the front; the far end is open.
func twoOpt(d [][]float64, path []int) []int {
	n := len(path)
	improved := true
	for improved {
		improved = false
		for i := 1; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				delta := d[path[i-1]][path[j]] - d[path[i-1]][path[i]]
				if j < n-1 {
					delta += d[path[i]][path[j+1]] - d[path[j]][path[j+1]]
				}
				if delta < -1e-12 {
					for a, b := i, j; a < b; a, b = a+1, b-1 {
						path[a], path[b] = path[b], path[a]
					}
					improved = true
				}
			}
		}
	}
	return path
}

func pathLength(d [][]float64, path []int) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += d[path[i-1]][path[i]]
	}
	return total
}

// mstWeight computes the minimum spanning tree weight over all points by
// Prim's algorithm.
func mstWeight(d [][]float64) float64 {
	n := len(d)
	inTree := make([]bool, n)
	best := make([]float64, n)
	for i := range best {
		best[i] = math.Inf(1)
	}
	best[0] = 0

	total := 0.0
	for range d {
		next := -1
		for v := 0; v < n; v++ {
			if !inTree[v] && (next == -1 || best[v] < best[next]) {
				next = v
			}
		}
		inTree[next] = true
		total += best[next]
		for v := 0; v < n; v++ {
			if !inTree[v] && d[next][v] < best[v] {
				best[v] = d[next][v]
			}
		}
	}
	return total
}

func travelDuration(distKm, speedKmh float64) time.Duration {
	return time.Duration(distKm / speedKmh * float64(time.Hour))
}

// =============================================================================
// Time Windows
// =============================================================================

// PlanRouteWindows plans a route honoring stop time windows. The distance
// order comes from PlanRoute; if some window cannot be met the stops are
// re-tried in window order before the route is declared infeasible. Crews
// wait out early arrivals and spend ServiceTime at each gate.
func PlanRouteWindows(base Stop, stops []Stop, speedKmh float64, departAt time.Time) *Route {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}

	route := PlanRoute(base, stops, speedKmh)
	if len(stops) == 0 {
		route.Arrivals = map[string]time.Time{}
		return route
	}

	byID := make(map[string]Stop, len(stops))
	for _, s := range stops {
		byID[s.ID] = s
	}

	if schedule(route, base, byID, speedKmh, departAt) {
		return route
	}

	// Distance order misses a window: fall back to earliest-window order.
	ordered := make([]Stop, len(stops))
	copy(ordered, stops)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].WindowStart.Before(ordered[j-1].WindowStart); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	alt := &Route{Order: make([]string, len(ordered))}
	prev := base
	for i, s := range ordered {
		alt.Order[i] = s.ID
		alt.DistanceKm += Haversine(prev.Lat, prev.Lng, s.Lat, s.Lng)
		prev = s
	}
	alt.TravelTime = travelDuration(alt.DistanceKm, speedKmh)
	alt.LowerBoundKm = route.LowerBoundKm
	alt.WithinBound = alt.DistanceKm <= MSTAcceptFactor*alt.LowerBoundKm

	if schedule(alt, base, byID, speedKmh, departAt) {
		return alt
	}

	// Neither order fits: report the shorter route with its misses.
	route.Feasible = false
	schedule(route, base, byID, speedKmh, departAt)
	return route
}

// schedule walks the route computing service start times. It returns false
// when a window closes before the crew can arrive.
func schedule(r *Route, base Stop, stops map[string]Stop, speedKmh float64, departAt time.Time) bool {
	r.Arrivals = make(map[string]time.Time, len(r.Order))
	r.Feasible = true

	now := departAt
	prev := base
	for _, id := range r.Order {
		s := stops[id]
		now = now.Add(travelDuration(Haversine(prev.Lat, prev.Lng, s.Lat, s.Lng), speedKmh))

		if !s.WindowStart.IsZero() && now.Before(s.WindowStart) {
			now = s.WindowStart
		}
		if !s.WindowEnd.IsZero() && now.After(s.WindowEnd) {
			r.Feasible = false
		}

		r.Arrivals[id] = now
		now = now.Add(ServiceTime)
		prev = s
	}
	return r.Feasible
}

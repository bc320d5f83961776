package gamestate

import "fmt"

// RouteLeg is one target of a dumped route. Times are seconds from the
// user's epoch, the same clock the target rows use.
type RouteLeg struct {
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	Yaw         float64           `json:"yaw"`
	Pitch       float64           `json:"pitch"`
	ArrivalTime int64             `json:"arrival_time"`
	Picture     bool              `json:"picture"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Route is a portable dump of a rover's target chain, used to rebuild the
// same drive on another account or after a reset.
type Route struct {
	RoverKey  string     `json:"rover_key"`
	LanderLat float64    `json:"lander_lat"`
	LanderLng float64    `json:"lander_lng"`
	Legs      []RouteLeg `json:"legs"`
}

// DumpRoute captures the rover's targets in arrival order. The metadata on
// each leg is what survived metering, so a replay re-meters the same keys.
func (r *Rover) DumpRoute() *Route {
	targets := r.Targets.All()
	route := &Route{
		RoverKey:  r.Row.RoverKey,
		LanderLat: r.Row.LanderLat,
		LanderLng: r.Row.LanderLng,
		Legs:      make([]RouteLeg, 0, len(targets)),
	}
	for _, t := range targets {
		md := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		route.Legs = append(route.Legs, RouteLeg{
			Lat:         t.Row.Lat,
			Lng:         t.Row.Lng,
			Yaw:         t.Row.Yaw,
			Pitch:       t.Row.Pitch,
			ArrivalTime: t.Row.ArrivalTime,
			Picture:     t.Row.Picture,
			Metadata:    md,
		})
	}
	return route
}

// ReplayRoute recreates a dumped route on the rover, leg by leg. Each leg's
// delta is computed back from its dumped arrival instant, so a chain
// replayed at the same session time carries the exact start_time and
// arrival_time values of the original. Normal creation rules still apply;
// a leg that no longer validates fails the whole replay.
func (r *Rover) ReplayRoute(route *Route) ([]*Target, error) {
	if route.RoverKey != r.Row.RoverKey {
		return nil, validationf("route was dumped from a %s rover, this one is %s", route.RoverKey, r.Row.RoverKey)
	}
	nowSec := r.user.NowSeconds()
	out := make([]*Target, 0, len(route.Legs))
	for i, leg := range route.Legs {
		md := make(map[string]string, len(leg.Metadata))
		for k, v := range leg.Metadata {
			md[k] = v
		}
		t, err := r.CreateTarget(CreateTargetParams{
			Lat:          leg.Lat,
			Lng:          leg.Lng,
			Yaw:          leg.Yaw,
			Pitch:        leg.Pitch,
			ArrivalDelta: leg.ArrivalTime - nowSec,
			Picture:      leg.Picture,
			Metadata:     md,
		})
		if err != nil {
			return nil, fmt.Errorf("replay leg %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

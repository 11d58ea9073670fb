// pkg/core/portal.go
package core

// Endpoint is one spacetime anchor of a portal.
type Endpoint struct {
	Location   Coordinates `json:"location"`
	Creation   TimeIndex   `json:"creation"`
	Expiration TimeIndex   `json:"expiration"`
	Scale      float64     `json:"scale"`
}

// Duration is the number of ticks the endpoint stays open.
func (e Endpoint) Duration() TimeIndex {
	return e.Expiration - e.Creation
}

// OpenAt reports whether tick falls in [Creation, Expiration).
func (e Endpoint) OpenAt(tick TimeIndex) bool {
	return tick >= e.Creation && tick < e.Expiration
}

// Compression is the size and time compression when travelling origin to destination.
type Compression struct {
	Scale    float64 `json:"scale"`
	Duration float64 `json:"duration"`
}

// Portal links two endpoints for one player.
type Portal struct {
	ID          uint        `json:"id"`
	Player      Player      `json:"player"`
	Origin      Endpoint    `json:"origin"`
	Dest        Endpoint    `json:"dest"`
	Compression Compression `json:"compression"`
}

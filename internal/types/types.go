// README: Common value objects shared across modules.
package types

// ID is a database-generated numeric identifier.
type ID int64

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

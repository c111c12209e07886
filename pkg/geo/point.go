package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a 2D coordinate on the overlay's plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// ParsePoint parses the two coordinate arguments given on a command line.
func ParsePoint(x, y string) (Point, error) {
	px, err := parseCoord("X", x)
	if err != nil {
		return Point{}, err
	}
	py, err := parseCoord("Y", y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: px, Y: py}, nil
}

// ParsePair parses "x,y".
func ParsePair(s string) (Point, error) {
	x, y, ok := strings.Cut(strings.Trim(strings.TrimSpace(s), "()"), ",")
	if !ok {
		return Point{}, fmt.Errorf("invalid point %q: want x,y", s)
	}
	return ParsePoint(strings.TrimSpace(x), strings.TrimSpace(y))
}

func parseCoord(name, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid <%s>: %q", name, v)
	}
	return f, nil
}

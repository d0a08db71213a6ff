// Package vivaldi implements the Vivaldi synthetic coordinate system.
// Nodes refine their coordinates from pairwise RTT samples until coordinate
// distance predicts network latency.
package vivaldi

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/emmalab/fogsim/internal/netem"
)

const (
	// Dimensions of the Euclidean embedding space.
	Dimensions = 8

	ce        = 0.9  // weight of the latest error sample
	cc        = 0.25 // force dampening
	maxError  = 1.5
	minHeight = 1e-5

	// heightFloor keeps the height term positive after an update so nodes
	// behind an access link never predict a zero last hop.
	heightFloor = 1e-3
)

// ErrMixedCoordinates is returned when a Vivaldi coordinate meets a
// coordinate of a different implementation.
var ErrMixedCoordinates = errors.New("mixed coordinate types")

// Coordinate is a point in the Vivaldi embedding space: a position vector,
// a height modeling the node's access link, and a local error estimate.
type Coordinate struct {
	Position   []float64
	Height     float64
	Error      float64
	Executions int
}

// New creates a coordinate at the origin with maximum error.
func New() *Coordinate {
	return &Coordinate{
		Position: make([]float64, Dimensions),
		Height:   minHeight,
		Error:    maxError,
	}
}

// DistanceTo predicts the RTT to other in milliseconds: the Euclidean
// distance between the positions plus both heights.
func (c *Coordinate) DistanceTo(other netem.Coordinate) (float64, error) {
	o, ok := other.(*Coordinate)
	if !ok {
		return 0, fmt.Errorf("%w: %T vs %T", ErrMixedCoordinates, c, other)
	}
	return floats.Distance(c.Position, o.Position, 2) + c.Height + o.Height, nil
}

func (c *Coordinate) String() string {
	return fmt.Sprintf("Coordinate(pos=%.3f h=%.4f err=%.3f)", c.Position, c.Height, c.Error)
}

// Execute feeds one RTT sample (milliseconds) into node's coordinate,
// pulling or pushing it relative to other's coordinate. Missing coordinates
// on either node are initialized first.
func Execute(node, other *netem.Node, rtt float64, rng *rand.Rand) error {
	a, err := coordinateOf(node)
	if err != nil {
		return err
	}
	b, err := coordinateOf(other)
	if err != nil {
		return err
	}

	weight := a.Error / (a.Error + b.Error)
	dist := floats.Distance(a.Position, b.Position, 2) + a.Height + b.Height
	sampleError := math.Abs(dist-rtt) / rtt

	a.Error = math.Min(maxError, sampleError*ce*weight+a.Error*(1-ce*weight))

	force := cc * weight * (rtt - dist)
	a.applyForce(force, b, rng)
	a.Executions++
	return nil
}

// applyForce moves the coordinate by force along the direction away from
// other, and scales the height accordingly.
func (c *Coordinate) applyForce(force float64, other *Coordinate, rng *rand.Rand) {
	unit, norm := unitVectorAt(c.Position, other.Position, rng)
	floats.AddScaled(c.Position, force, unit)
	if norm > 0 {
		c.Height += (c.Height + other.Height) * force / norm
		c.Height = math.Max(c.Height, heightFloor)
	}
}

// unitVectorAt returns a unit vector pointing at v1 from v2 together with
// the distance between them. Coinciding vectors yield a random direction
// and a reported norm of 0.
func unitVectorAt(v1, v2 []float64, rng *rand.Rand) ([]float64, float64) {
	result := make([]float64, len(v1))
	floats.SubTo(result, v1, v2)

	norm := floats.Norm(result, 2)
	if norm > 0 {
		floats.Scale(1/norm, result)
		return result, norm
	}

	for i := range result {
		result[i] = rng.NormFloat64()
	}
	floats.Scale(1/floats.Norm(result, 2), result)
	return result, 0
}

func coordinateOf(n *netem.Node) (*Coordinate, error) {
	if n.Coordinate == nil {
		c := New()
		n.Coordinate = c
		return c, nil
	}
	c, ok := n.Coordinate.(*Coordinate)
	if !ok {
		return nil, fmt.Errorf("%w: node %s carries %T", ErrMixedCoordinates, n.Name, n.Coordinate)
	}
	return c, nil
}

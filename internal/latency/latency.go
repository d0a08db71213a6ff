// Package latency provides parameterized latency distributions for network
// connections, in milliseconds.
package latency

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Dist is a lognormal latency distribution following the (shape, loc, scale)
// parameterization: samples are exp(N(log(scale), shape)) + loc.
type Dist struct {
	Shape float64
	Loc   float64
	Scale float64
}

// New returns a lognormal latency distribution.
func New(shape, loc, scale float64) *Dist {
	return &Dist{Shape: shape, Loc: loc, Scale: scale}
}

// Sample draws one latency value using the given random source.
func (d *Dist) Sample(rng *rand.Rand) float64 {
	ln := distuv.LogNormal{Mu: math.Log(d.Scale), Sigma: d.Shape, Src: rng}
	return ln.Rand() + d.Loc
}

// Mode returns the most frequent latency value of the distribution.
func (d *Dist) Mode() float64 {
	return math.Exp(math.Log(d.Scale)-d.Shape*d.Shape) + d.Loc
}

// Mean returns the expected latency value of the distribution.
func (d *Dist) Mean() float64 {
	return math.Exp(math.Log(d.Scale)+d.Shape*d.Shape/2) + d.Loc
}

// Profiles for common access technologies.
var (
	Lan         = New(0.25, 0.35, 0.16)
	Ethernet    = Lan
	Wlan        = New(0.635, 1.18, 3.27)
	BusinessISP = New(0.87, 5.95, 1.21)
	Fiber       = BusinessISP
	MobileISP   = New(0.49, 16.2, 8.02)
)

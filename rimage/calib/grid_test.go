package calib

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestAsymmetricGridPoints(t *testing.T) {
	g := AsymmetricGrid{Cols: 3, Rows: 9, HStep: 50, VStep: 25}
	pts := g.Points()
	test.That(t, len(pts), test.ShouldEqual, 27)
	test.That(t, pts[0], test.ShouldResemble, r3.Vector{X: 175, Y: 225})
	test.That(t, pts[1], test.ShouldResemble, r3.Vector{X: 125, Y: 225})
	test.That(t, pts[3], test.ShouldResemble, r3.Vector{X: 150, Y: 200})
	test.That(t, pts[26], test.ShouldResemble, r3.Vector{X: 75, Y: 25})

	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			p := pts[c+r*g.Cols]
			test.That(t, p.Z, test.ShouldEqual, 0.0)
			test.That(t, p.Y, test.ShouldEqual, float64(g.Rows-r)*g.VStep)
			if c > 0 {
				test.That(t, pts[c-1+r*g.Cols].X-p.X, test.ShouldEqual, g.HStep)
			}
		}
		if r > 0 {
			// adjacent rows are offset by half a step
			diff := pts[r*g.Cols].X - pts[(r-1)*g.Cols].X
			if r%2 == 0 {
				test.That(t, diff, test.ShouldEqual, g.HStep/2)
			} else {
				test.That(t, diff, test.ShouldEqual, -g.HStep/2)
			}
		}
	}
}

func TestAsymmetricGridValidate(t *testing.T) {
	test.That(t, AsymmetricGrid{Cols: 3, Rows: 9, HStep: 50, VStep: 25}.Validate(), test.ShouldBeNil)
	test.That(t, AsymmetricGrid{Cols: 0, Rows: 9, HStep: 50, VStep: 25}.Validate(), test.ShouldNotBeNil)
	test.That(t, AsymmetricGrid{Cols: 3, Rows: 9, HStep: 0, VStep: 25}.Validate(), test.ShouldNotBeNil)
}

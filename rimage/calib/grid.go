// Package calib turns photographs of an asymmetric circle grid into camera models:
// grid point generation, dot detection, correspondence collection and the
// intrinsic and extrinsic solve.
package calib

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// AsymmetricGrid describes a printed board of Cols x Rows dots where every even
// row is shifted half a horizontal step. HStep and VStep are in millimeters.
type AsymmetricGrid struct {
	Cols  int     `json:"cols"`
	Rows  int     `json:"rows"`
	HStep float64 `json:"h_step_mm"`
	VStep float64 `json:"v_step_mm"`
}

// Validate rejects grids that cannot be generated.
func (g AsymmetricGrid) Validate() error {
	if g.Cols <= 0 || g.Rows <= 0 {
		return errors.Errorf("grid size must be positive, got %dx%d", g.Cols, g.Rows)
	}
	if g.HStep <= 0 || g.VStep <= 0 {
		return errors.Errorf("grid steps must be positive, got %v x %v", g.HStep, g.VStep)
	}
	return nil
}

// Len is the number of dots on the board.
func (g AsymmetricGrid) Len() int {
	return g.Cols * g.Rows
}

// Points returns the planar board coordinates of every dot, z = 0, indexed
// c + r*Cols. Counting is done from the far corner so the first dot has the
// largest coordinates.
func (g AsymmetricGrid) Points() []r3.Vector {
	pts := make([]r3.Vector, g.Len())
	for r := 0; r < g.Rows; r++ {
		y := float64(g.Rows-r) * g.VStep
		for c := 0; c < g.Cols; c++ {
			x := float64(g.Cols-c) * g.HStep
			if r%2 == 0 {
				x += g.HStep / 2
			}
			pts[c+r*g.Cols] = r3.Vector{X: x, Y: y}
		}
	}
	return pts
}

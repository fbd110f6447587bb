package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage/transform"
)

// minClosedFormViews is the number of views the closed-form solve needs to
// determine all five intrinsic parameters.
const minClosedFormViews = 3

// ZhangSolver is a planar-target camera solve. Every view contributes a homography
// from which the camera matrix follows in closed form; the estimate is then refined
// by minimizing reprojection error over fx, fy, cx, cy, two radial distortion terms
// and the per-view poses.
//
// With fewer than three views the principal point is fixed at the image center,
// skew and distortion are zero and only the focal lengths are solved.
type ZhangSolver struct {
	// SkipRefinement returns the closed-form estimate as is.
	SkipRefinement bool
	// MaxIterations bounds the refinement; zero means 200.
	MaxIterations int
	Logger        logging.Logger
}

// Solve implements CameraSolver.
func (z *ZhangSolver) Solve(set *CorrespondenceSet) (*SolveResult, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	homographies := make([]*mat.Dense, len(set.Pairs))
	for i, pair := range set.Pairs {
		plane := make([]r2.Point, len(pair.Object))
		for j, p := range pair.Object {
			plane[j] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(plane, pair.Image)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d (%s)", i, pair.Source)
		}
		homographies[i] = h.Dense()
	}

	focalOnly := len(homographies) < minClosedFormViews
	var (
		k   *mat.Dense
		err error
	)
	if !focalOnly {
		k, err = closedFormIntrinsics(homographies, set.Width, set.Height)
		if err != nil {
			z.logger().Debugw("closed-form intrinsics failed, fixing the principal point", "error", err)
			focalOnly = true
		}
	}
	if focalOnly {
		k, err = focalLengthIntrinsics(homographies, set.Width, set.Height)
		if err != nil {
			return nil, err
		}
	}

	views := make([]viewPose, len(homographies))
	for i, h := range homographies {
		v, err := poseFromHomography(k, h)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d (%s)", i, set.Pairs[i].Source)
		}
		views[i] = v
	}

	state := newRefineState(k, views, set, focalOnly)
	initial := state.cost(state.full)
	if !z.SkipRefinement {
		z.refine(state, initial)
	}
	return state.result(), nil
}

func (z *ZhangSolver) logger() logging.Logger {
	if z.Logger == nil {
		return logging.Global()
	}
	return z.Logger
}

func (z *ZhangSolver) refine(state *refineState, initial float64) {
	x0 := state.pack()
	f := func(x []float64) float64 {
		return state.cost(state.unpack(x))
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		},
	}
	iterations := z.MaxIterations
	if iterations <= 0 {
		iterations = 200
	}
	settings := &optimize.Settings{
		MajorIterations:   iterations,
		GradientThreshold: 1e-9,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 20,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if result == nil {
		z.logger().Debugw("refinement failed", "error", err)
		return
	}
	if err != nil {
		z.logger().Debugw("refinement stopped early", "error", err, "status", result.Status)
	}
	if math.IsNaN(result.F) || result.F >= initial {
		z.logger().Debugw("keeping closed-form estimate", "initial", initial, "refined", result.F)
		return
	}
	state.full = state.unpack(result.X)
	z.logger().Debugw("refined camera solve",
		"initial_rms", math.Sqrt(initial/float64(state.points)),
		"refined_rms", math.Sqrt(result.F/float64(state.points)))
}

// closedFormIntrinsics recovers K from B = K⁻ᵀK⁻¹ using the two constraints every
// homography puts on the image of the absolute conic. Image coordinates are first
// centered and scaled to about unit range.
func closedFormIntrinsics(hs []*mat.Dense, width, height int) (*mat.Dense, error) {
	norm, denorm := imageNormalization(width, height)
	v := mat.NewDense(2*len(hs), 6, nil)
	for i, h := range hs {
		var hn mat.Dense
		hn.Mul(norm, h)
		hn.Scale(1/mat.Norm(&hn, 2), &hn)
		v12 := conicRow(&hn, 0, 1)
		v11 := conicRow(&hn, 0, 0)
		v22 := conicRow(&hn, 1, 1)
		for j := range v11 {
			v11[j] -= v22[j]
		}
		v.SetRow(2*i, v12)
		v.SetRow(2*i+1, v11)
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize conic system")
	}
	// singular values are sorted, the null vector is the last right singular vector
	var rightVecs mat.Dense
	svd.VTo(&rightVecs)
	b := mat.Col(nil, 5, &rightVecs)
	if b[0] < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if den <= 0 || b11 <= 0 {
		return nil, errors.New("image of the absolute conic is not positive definite")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 {
		return nil, errors.New("degenerate view configuration")
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	gamma := -b12 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b13*alpha*alpha/lambda

	kn := mat.NewDense(3, 3, []float64{
		alpha, gamma, u0,
		0, beta, v0,
		0, 0, 1,
	})
	var k mat.Dense
	k.Mul(denorm, kn)
	return &k, nil
}

// focalLengthIntrinsics solves fx and fy with the principal point at the image
// center and zero skew.
func focalLengthIntrinsics(hs []*mat.Dense, width, height int) (*mat.Dense, error) {
	norm, denorm := imageNormalization(width, height)
	a := mat.NewDense(2*len(hs), 2, nil)
	rhs := mat.NewVecDense(2*len(hs), nil)
	for i, h := range hs {
		var hn mat.Dense
		hn.Mul(norm, h)
		hn.Scale(1/mat.Norm(&hn, 2), &hn)
		v12 := conicRow(&hn, 0, 1)
		v11 := conicRow(&hn, 0, 0)
		v22 := conicRow(&hn, 1, 1)
		// only B11, B22 and B33 = 1 survive for a diagonal camera matrix
		a.SetRow(2*i, []float64{v12[0], v12[2]})
		rhs.SetVec(2*i, -v12[5])
		a.SetRow(2*i+1, []float64{v11[0] - v22[0], v11[2] - v22[2]})
		rhs.SetVec(2*i+1, -(v11[5] - v22[5]))
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, rhs); err != nil {
		return nil, errors.Wrap(err, "cannot solve for focal lengths")
	}
	b11, b22 := sol.AtVec(0), sol.AtVec(1)
	if b11 <= 0 || b22 <= 0 {
		return nil, errors.New("focal length estimate is not positive; views may be fronto-parallel")
	}
	kn := mat.NewDense(3, 3, []float64{
		1 / math.Sqrt(b11), 0, 0,
		0, 1 / math.Sqrt(b22), 0,
		0, 0, 1,
	})
	var k mat.Dense
	k.Mul(denorm, kn)
	return &k, nil
}

// imageNormalization returns N, which maps pixels to centered coordinates of
// about unit range, and its inverse.
func imageNormalization(width, height int) (*mat.Dense, *mat.Dense) {
	cx, cy := float64(width-1)/2, float64(height-1)/2
	s := float64(max(width, height))
	norm := mat.NewDense(3, 3, []float64{
		1 / s, 0, -cx / s,
		0, 1 / s, -cy / s,
		0, 0, 1,
	})
	denorm := mat.NewDense(3, 3, []float64{
		s, 0, cx,
		0, s, cy,
		0, 0, 1,
	})
	return norm, denorm
}

// conicRow is v_ij such that h_iᵀ B h_j = v_ij · [B11 B12 B22 B13 B23 B33].
func conicRow(h mat.Matrix, i, j int) []float64 {
	return []float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

type viewPose struct {
	rvec r3.Vector
	tvec r3.Vector
}

// poseFromHomography splits H = λ·K·[r1 r2 t] and snaps [r1 r2 r1×r2] onto a rotation.
func poseFromHomography(k, h *mat.Dense) (viewPose, error) {
	var kinv mat.Dense
	if err := kinv.Inverse(k); err != nil {
		return viewPose{}, errors.Wrap(err, "camera matrix is singular")
	}
	var m mat.Dense
	m.Mul(&kinv, h)
	a1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	a2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	a3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}
	n := (a1.Norm() + a2.Norm()) / 2
	if n == 0 {
		return viewPose{}, errors.New("degenerate homography")
	}
	lambda := 1 / n
	// the board is in front of the camera
	if a3.Z*lambda < 0 {
		lambda = -lambda
	}
	r1, r2, t := a1.Mul(lambda), a2.Mul(lambda), a3.Mul(lambda)
	r3v := r1.Cross(r2)
	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, err := transform.NearestRotation(approx)
	if err != nil {
		return viewPose{}, err
	}
	return viewPose{rvec: transform.RotationToRodrigues(rot), tvec: t}, nil
}

// intrinsic parameter layout of the refinement vector.
const (
	paramFx = iota
	paramFy
	paramCx
	paramCy
	paramK1
	paramK2
	numIntrinsicParams
)

// refineState maps between the full parameter vector (intrinsics followed by six
// pose values per view) and the subset the optimizer is allowed to move.
type refineState struct {
	set    *CorrespondenceSet
	skew   float64
	full   []float64
	free   []int
	points int
}

func newRefineState(k *mat.Dense, views []viewPose, set *CorrespondenceSet, focalOnly bool) *refineState {
	full := make([]float64, numIntrinsicParams+6*len(views))
	full[paramFx] = k.At(0, 0)
	full[paramFy] = k.At(1, 1)
	full[paramCx] = k.At(0, 2)
	full[paramCy] = k.At(1, 2)
	for i, v := range views {
		o := numIntrinsicParams + 6*i
		copy(full[o:o+6], []float64{v.rvec.X, v.rvec.Y, v.rvec.Z, v.tvec.X, v.tvec.Y, v.tvec.Z})
	}

	var free []int
	if focalOnly {
		free = []int{paramFx, paramFy}
	} else {
		free = []int{paramFx, paramFy, paramCx, paramCy, paramK1, paramK2}
	}
	for i := numIntrinsicParams; i < len(full); i++ {
		free = append(free, i)
	}

	points := 0
	for _, p := range set.Pairs {
		points += len(p.Image)
	}
	return &refineState{set: set, skew: k.At(0, 1), full: full, free: free, points: points}
}

func (s *refineState) pack() []float64 {
	x := make([]float64, len(s.free))
	for i, idx := range s.free {
		x[i] = s.full[idx]
	}
	return x
}

func (s *refineState) unpack(x []float64) []float64 {
	full := append([]float64(nil), s.full...)
	for i, idx := range s.free {
		full[idx] = x[i]
	}
	return full
}

// cost is the sum of squared reprojection errors in pixels.
func (s *refineState) cost(p []float64) float64 {
	fx, fy, cx, cy, k1, k2 := p[paramFx], p[paramFy], p[paramCx], p[paramCy], p[paramK1], p[paramK2]
	total := 0.0
	for i, pair := range s.set.Pairs {
		o := numIntrinsicParams + 6*i
		pose := transform.NewCamPoseFromRodrigues(
			r3.Vector{X: p[o], Y: p[o+1], Z: p[o+2]},
			r3.Vector{X: p[o+3], Y: p[o+4], Z: p[o+5]},
		)
		for j, obj := range pair.Object {
			c := pose.Apply(obj)
			if c.Z <= 0 {
				return math.Inf(1)
			}
			x, y := c.X/c.Z, c.Y/c.Z
			r2 := x*x + y*y
			radial := 1 + k1*r2 + k2*r2*r2
			x, y = x*radial, y*radial
			u := fx*x + s.skew*y + cx
			v := fy*y + cy
			du, dv := u-pair.Image[j].X, v-pair.Image[j].Y
			total += du*du + dv*dv
		}
	}
	return total
}

func (s *refineState) result() *SolveResult {
	p := s.full
	views := len(s.set.Pairs)
	res := &SolveResult{
		K: mat.NewDense(3, 3, []float64{
			p[paramFx], s.skew, p[paramCx],
			0, p[paramFy], p[paramCy],
			0, 0, 1,
		}),
		Distortion: []float64{p[paramK1], p[paramK2], 0, 0, 0},
		RVecs:      make([]r3.Vector, views),
		TVecs:      make([]r3.Vector, views),
		RMS:        math.Sqrt(s.cost(p) / float64(s.points)),
	}
	for i := 0; i < views; i++ {
		o := numIntrinsicParams + 6*i
		res.RVecs[i] = r3.Vector{X: p[o], Y: p[o+1], Z: p[o+2]}
		res.TVecs[i] = r3.Vector{X: p[o+3], Y: p[o+4], Z: p[o+5]}
	}
	return res
}

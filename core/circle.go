package core

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// colinearTolerance bounds |sin θ| between the two chords of a point
	// triple below which the triple is treated as a straight line.
	colinearTolerance = 1e-12

	lmMaxIterations = 100
	lmTolerance     = 1e-10
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e12
)

// Circle is a circle in a projection plane.
type Circle struct {
	X, Y   float64
	Radius float64
}

// Center returns the circle centre as a plane vector with z = 0.
func (c Circle) Center() Vec3 { return Vec3{X: c.X, Y: c.Y} }

// Valid reports whether the circle has a finite, positive radius and a
// finite centre.
func (c Circle) Valid() bool {
	return c.Radius > 0 && !math.IsInf(c.Radius, 0) && !math.IsNaN(c.Radius) &&
		!math.IsNaN(c.X) && !math.IsNaN(c.Y) && !math.IsInf(c.X, 0) && !math.IsInf(c.Y, 0)
}

// CircleFromThreePoints returns the circle through three plane points,
// ignoring z. Coincident or colinear points have no such circle; the
// result then has an infinite radius and ok is false.
func CircleFromThreePoints(p1, p2, p3 Vec3) (c Circle, ok bool) {
	// Work relative to p1 to keep the squares small.
	bx, by := p2.X-p1.X, p2.Y-p1.Y
	cx, cy := p3.X-p1.X, p3.Y-p1.Y

	b2 := bx*bx + by*by
	c2 := cx*cx + cy*cy
	d := 2 * (bx*cy - by*cx)
	if b2 == 0 || c2 == 0 || math.Abs(d) <= 2*colinearTolerance*math.Sqrt(b2*c2) {
		return Circle{X: math.NaN(), Y: math.NaN(), Radius: math.Inf(1)}, false
	}

	ux := (cy*b2 - by*c2) / d
	uy := (bx*c2 - cx*b2) / d
	return Circle{X: p1.X + ux, Y: p1.Y + uy, Radius: math.Hypot(ux, uy)}, true
}

// LeastSquaresCircle refines seed into the circle minimising the sum of
// squared radial residuals of points, using Levenberg-Marquardt. The
// seed is returned unchanged when it is not Valid or fewer than three
// points are given.
func LeastSquaresCircle(points []Vec3, seed Circle) Circle {
	if len(points) < 3 || !seed.Valid() {
		return seed
	}

	params := [3]float64{seed.X, seed.Y, seed.Radius}
	cost := circleCost(points, params)
	lambda := lmInitialLambda

	a := mat.NewDense(3, 3, nil)
	b := mat.NewVecDense(3, nil)
	var delta mat.VecDense

	for iter := 0; iter < lmMaxIterations; iter++ {
		jtj, jtr := circleNormalEquations(points, params)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				a.Set(i, j, jtj[i][j])
			}
			damp := lambda * jtj[i][i]
			if damp == 0 {
				damp = lambda
			}
			a.Set(i, i, jtj[i][i]+damp)
			b.SetVec(i, -jtr[i])
		}

		if err := delta.SolveVec(a, b); err != nil {
			lambda *= 10
			if lambda > lmMaxLambda {
				break
			}
			continue
		}

		candidate := [3]float64{
			params[0] + delta.AtVec(0),
			params[1] + delta.AtVec(1),
			params[2] + delta.AtVec(2),
		}
		if candidate[2] <= 0 {
			lambda *= 10
			if lambda > lmMaxLambda {
				break
			}
			continue
		}

		candidateCost := circleCost(points, candidate)
		if candidateCost >= cost {
			lambda *= 10
			if lambda > lmMaxLambda {
				break
			}
			continue
		}

		params, cost = candidate, candidateCost
		lambda /= 10
		step := math.Sqrt(mat.Dot(&delta, &delta))
		if step <= lmTolerance*(1+params[2]) {
			break
		}
	}

	return Circle{X: params[0], Y: params[1], Radius: params[2]}
}

func circleCost(points []Vec3, p [3]float64) float64 {
	var sum float64
	for _, pt := range points {
		r := math.Hypot(pt.X-p[0], pt.Y-p[1]) - p[2]
		sum += r * r
	}
	return sum
}

// circleNormalEquations accumulates JᵀJ and Jᵀr for the residuals
// r_i = |p_i - c| - R with respect to (cx, cy, R).
func circleNormalEquations(points []Vec3, p [3]float64) (jtj [3][3]float64, jtr [3]float64) {
	for _, pt := range points {
		dx, dy := pt.X-p[0], pt.Y-p[1]
		d := math.Hypot(dx, dy)
		if d == 0 {
			continue
		}
		j := [3]float64{-dx / d, -dy / d, -1}
		res := d - p[2]
		for r := 0; r < 3; r++ {
			jtr[r] += j[r] * res
			for c := 0; c < 3; c++ {
				jtj[r][c] += j[r] * j[c]
			}
		}
	}
	return jtj, jtr
}

package ahrs

import "math"

// Quaternion convention: q = (E0; E1, E2, E3) rotates the body frame
// into the earth frame. Body axes: 1 is to nose, 2 is to right wing,
// 3 is down. Earth frame: 1 is north, 2 is east, 3 is down.

// ToQuaternion calculates the components of the rotation quaternion
// corresponding to the Tait-Bryan angles roll, pitch, heading (radians).
func ToQuaternion(roll, pitch, heading float64) (float64, float64, float64, float64) {
	cr := math.Cos(roll / 2)
	sr := math.Sin(roll / 2)
	cp := math.Cos(pitch / 2)
	sp := math.Sin(pitch / 2)
	ch := math.Cos(heading / 2)
	sh := math.Sin(heading / 2)

	q0 := cr*cp*ch + sr*sp*sh
	q1 := sr*cp*ch - cr*sp*sh
	q2 := cr*sp*ch + sr*cp*sh
	q3 := cr*cp*sh - sr*sp*ch
	return q0, q1, q2, q3
}

// FromQuaternion calculates the Tait-Bryan angles roll, pitch, heading
// corresponding to the quaternion.
func FromQuaternion(q0, q1, q2, q3 float64) (float64, float64, float64) {
	roll := math.Atan2(2*(q0*q1+q2*q3), 1-2*(q1*q1+q2*q2))
	s := 2 * (q0*q2 - q3*q1)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	pitch := math.Asin(s)
	heading := math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
	if heading < 0 {
		heading += 2 * math.Pi
	}
	return roll, pitch, heading
}

// Regularize ensures that roll, pitch, and heading are in the correct
// ranges. All in radians.
func Regularize(roll, pitch, heading float64) (float64, float64, float64) {
	for pitch > Pi {
		pitch -= 2 * Pi
	}
	for pitch <= -Pi {
		pitch += 2 * Pi
	}
	if pitch > Pi/2 {
		pitch = Pi - pitch
		roll -= Pi
		heading += Pi
	}
	if pitch < -Pi/2 {
		pitch = -Pi - pitch
		roll -= Pi
		heading += Pi
	}

	for roll > Pi {
		roll -= 2 * Pi
	}
	for roll < -Pi {
		roll += 2 * Pi
	}

	for heading >= 2*Pi {
		heading -= 2 * Pi
	}
	for heading < 0 {
		heading += 2 * Pi
	}
	return roll, pitch, heading
}

// QuatMul returns the Hamilton product a*b.
func QuatMul(a0, a1, a2, a3, b0, b1, b2, b3 float64) (float64, float64, float64, float64) {
	return a0*b0 - a1*b1 - a2*b2 - a3*b3,
		a0*b1 + a1*b0 + a2*b3 - a3*b2,
		a0*b2 - a1*b3 + a2*b0 + a3*b1,
		a0*b3 + a1*b2 - a2*b1 + a3*b0
}

// QuatExp returns the unit quaternion representing a rotation by the
// vector v (axis times angle, radians). This is the exponential map;
// unlike a naive Euler step it preserves unit magnitude for any step
// size, and it degrades gracefully to the small-angle form near zero.
func QuatExp(v1, v2, v3 float64) (float64, float64, float64, float64) {
	theta := math.Sqrt(v1*v1 + v2*v2 + v3*v3)
	if theta < Small {
		// sin(x/2)/x -> 1/2 as x -> 0
		return 1, v1 / 2, v2 / 2, v3 / 2
	}
	s := math.Sin(theta/2) / theta
	return math.Cos(theta / 2), v1 * s, v2 * s, v3 * s
}

// RotateToEarth rotates the body-frame vector v into the earth frame
// using quaternion q.
func RotateToEarth(q0, q1, q2, q3, v1, v2, v3 float64) (float64, float64, float64) {
	// q * (0;v) * conj(q)
	t0, t1, t2, t3 := QuatMul(q0, q1, q2, q3, 0, v1, v2, v3)
	_, r1, r2, r3 := QuatMul(t0, t1, t2, t3, q0, -q1, -q2, -q3)
	return r1, r2, r3
}

// RotateToBody rotates the earth-frame vector v into the body frame.
func RotateToBody(q0, q1, q2, q3, v1, v2, v3 float64) (float64, float64, float64) {
	return RotateToEarth(q0, -q1, -q2, -q3, v1, v2, v3)
}

// AttitudeError returns the small-angle axis-angle residual, in body
// axes, that rotates the estimated attitude onto the desired one. For
// small errors the components approximate the roll/pitch/yaw angle
// errors in radians; the shortest rotation is always chosen.
func AttitudeError(est0, est1, est2, est3, des0, des1, des2, des3 float64) (float64, float64, float64) {
	// qe = conj(est) * des
	e0, e1, e2, e3 := QuatMul(est0, -est1, -est2, -est3, des0, des1, des2, des3)
	if e0 < 0 { // take the short way around
		e0, e1, e2, e3 = -e0, -e1, -e2, -e3
	}
	// axis * angle = 2 * acos(w) * vec/|vec|
	n := math.Sqrt(e1*e1 + e2*e2 + e3*e3)
	if n < Small {
		return 2 * e1, 2 * e2, 2 * e3
	}
	if e0 > 1 {
		e0 = 1
	}
	angle := 2 * math.Acos(e0)
	return angle * e1 / n, angle * e2 / n, angle * e3 / n
}

// Package sim provides a rigid-body vehicle model and sensor synthesis
// for closed-loop testing of the estimator and control law without
// hardware.
package sim

import (
	"math"
	"math/rand"

	"github.com/westphae/quaternion"

	"github.com/David-OConnor/quadcopter/ahrs"
	"github.com/David-OConnor/quadcopter/sensors"
)

// Earth's magnetic field in the NED frame at the simulated location,
// µT. Declination zero, inclination about 60°.
var earthField = quaternion.Quaternion{X: 22, Z: 42}

// Vehicle is a small multirotor as a rigid body. Attitude integrates
// commanded torque through a first-order response; translation is
// vertical only, which is all the altitude filter observes.
type Vehicle struct {
	// Att rotates body to earth (NED).
	Att quaternion.Quaternion
	// Rates are body angular rates, rad/s.
	Rates [3]float64
	// Alt is altitude MSL, m (positive up); VSpeed its derivative.
	Alt, VSpeed float64

	// TorqueGain converts a unit torque demand to angular
	// acceleration, rad/s². ThrustGain converts unit thrust to
	// specific force, m/s².
	TorqueGain [3]float64
	ThrustGain float64
	// Damping opposes rotation, 1/s.
	Damping float64

	// Sensor imperfections.
	GyroBias   [3]float64
	GyroNoise  float64
	AccelNoise float64
	MagNoise   float64
	BaroNoise  float64

	rng *rand.Rand
}

// NewVehicle returns a level, motionless vehicle with typical small
// quad dynamics and a deterministic noise source.
func NewVehicle(seed int64) *Vehicle {
	return &Vehicle{
		Att:        quaternion.Quaternion{W: 1},
		TorqueGain: [3]float64{300, 300, 100},
		ThrustGain: 2.5 * ahrs.G,
		Damping:    4,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Step advances the body by dt under the given torque demands (-1..1)
// and thrust (0..1).
func (v *Vehicle) Step(torque [3]float64, thrust, dt float64) {
	for i := 0; i < 3; i++ {
		v.Rates[i] += (torque[i]*v.TorqueGain[i] - v.Damping*v.Rates[i]) * dt
	}

	// Attitude: q <- q * exp(omega*dt/2)
	w := quaternion.Quaternion{X: v.Rates[0] * dt / 2, Y: v.Rates[1] * dt / 2, Z: v.Rates[2] * dt / 2}
	n := math.Sqrt(w.X*w.X + w.Y*w.Y + w.Z*w.Z)
	var dq quaternion.Quaternion
	if n < 1e-12 {
		dq = quaternion.Quaternion{W: 1, X: w.X, Y: w.Y, Z: w.Z}
	} else {
		s := math.Sin(n) / n
		dq = quaternion.Quaternion{W: math.Cos(n), X: w.X * s, Y: w.Y * s, Z: w.Z * s}
	}
	v.Att = quaternion.Prod(v.Att, dq)
	norm := math.Sqrt(v.Att.W*v.Att.W + v.Att.X*v.Att.X + v.Att.Y*v.Att.Y + v.Att.Z*v.Att.Z)
	v.Att.W /= norm
	v.Att.X /= norm
	v.Att.Y /= norm
	v.Att.Z /= norm

	// Vertical: thrust along body -z, projected on earth down.
	up := v.bodyToEarth(0, 0, -1)
	accel := -up[2]*thrust*v.ThrustGain - ahrs.G
	v.VSpeed += accel * dt
	v.Alt += v.VSpeed * dt
	if v.Alt < 0 {
		v.Alt = 0
		if v.VSpeed < 0 {
			v.VSpeed = 0
		}
	}
}

// RollPitchHeading returns the true attitude.
func (v *Vehicle) RollPitchHeading() (roll, pitch, heading float64) {
	return ahrs.FromQuaternion(v.Att.W, v.Att.X, v.Att.Y, v.Att.Z)
}

func (v *Vehicle) bodyToEarth(x, y, z float64) [3]float64 {
	p := quaternion.Prod(v.Att, quaternion.Quaternion{X: x, Y: y, Z: z}, v.Att.Conj())
	return [3]float64{p.X, p.Y, p.Z}
}

func (v *Vehicle) earthToBody(x, y, z float64) [3]float64 {
	p := quaternion.Prod(v.Att.Conj(), quaternion.Quaternion{X: x, Y: y, Z: z}, v.Att)
	return [3]float64{p.X, p.Y, p.Z}
}

func (v *Vehicle) noise(scale float64) float64 {
	if scale == 0 {
		return 0
	}
	return v.rng.NormFloat64() * scale
}

// GyroFrame synthesizes a gyro sample at time t.
func (v *Vehicle) GyroFrame(t sensors.Ticks) sensors.Frame {
	return sensors.Frame{
		Kind: sensors.Gyro,
		T:    t,
		Vec: [3]float64{
			v.Rates[0] + v.GyroBias[0] + v.noise(v.GyroNoise),
			v.Rates[1] + v.GyroBias[1] + v.noise(v.GyroNoise),
			v.Rates[2] + v.GyroBias[2] + v.noise(v.GyroNoise),
		},
		Valid: true,
	}
}

// AccelFrame synthesizes an accelerometer sample: the reaction to
// gravity in the body frame, ignoring linear acceleration.
func (v *Vehicle) AccelFrame(t sensors.Ticks) sensors.Frame {
	g := v.earthToBody(0, 0, -ahrs.G)
	return sensors.Frame{
		Kind: sensors.Accel,
		T:    t,
		Vec: [3]float64{
			g[0] + v.noise(v.AccelNoise),
			g[1] + v.noise(v.AccelNoise),
			g[2] + v.noise(v.AccelNoise),
		},
		Valid: true,
	}
}

// MagFrame synthesizes a magnetometer sample.
func (v *Vehicle) MagFrame(t sensors.Ticks) sensors.Frame {
	m := v.earthToBody(earthField.X, earthField.Y, earthField.Z)
	return sensors.Frame{
		Kind: sensors.Mag,
		T:    t,
		Vec: [3]float64{
			m[0] + v.noise(v.MagNoise),
			m[1] + v.noise(v.MagNoise),
			m[2] + v.noise(v.MagNoise),
		},
		Valid: true,
	}
}

// BaroFrame synthesizes a barometric altitude sample.
func (v *Vehicle) BaroFrame(t sensors.Ticks) sensors.Frame {
	return sensors.Frame{
		Kind:  sensors.Baro,
		T:     t,
		Value: v.Alt + v.noise(v.BaroNoise),
		Valid: true,
	}
}

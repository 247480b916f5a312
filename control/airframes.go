package control

// QuadXTable returns the standard X-quad mixing table. Motors are
// numbered front-right, rear-left, front-left, rear-right; props spin
// so that front-right and rear-left turn clockwise.
func QuadXTable() Table {
	return Table{
		Channels: []Channel{
			{Roll: -1, Pitch: 1, Yaw: 1, Thrust: 1, Min: 0, Max: 1},
			{Roll: 1, Pitch: -1, Yaw: 1, Thrust: 1, Min: 0, Max: 1},
			{Roll: 1, Pitch: 1, Yaw: -1, Thrust: 1, Min: 0, Max: 1},
			{Roll: -1, Pitch: -1, Yaw: -1, Thrust: 1, Min: 0, Max: 1},
		},
		NeedRoll: true, NeedPitch: true, NeedYaw: true, NeedThrust: true,
	}
}

// FlyingWingTable returns a two-elevon wing with a single pusher motor.
// Yaw has no direct actuator; turns are flown with roll.
func FlyingWingTable() Table {
	return Table{
		Channels: []Channel{
			{Roll: -1, Pitch: 1, Min: -1, Max: 1}, // left elevon
			{Roll: 1, Pitch: 1, Min: -1, Max: 1},  // right elevon
			{Thrust: 1, Min: 0, Max: 1},           // motor
		},
		NeedRoll: true, NeedPitch: true, NeedThrust: true,
	}
}

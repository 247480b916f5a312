package control

import (
	"errors"
	"math"
	"testing"
)

func TestQuadXHover(t *testing.T) {
	tbl := QuadXTable()
	out := tbl.Mix(Demand{Thrust: 0.5})
	for i, v := range out {
		if v != 0.5 {
			t.Errorf("motor %d at hover: got %f, want 0.5", i, v)
		}
	}
}

func TestQuadXRollAuthority(t *testing.T) {
	tbl := QuadXTable()
	out := tbl.Mix(Demand{Roll: 0.1, Thrust: 0.5})
	// Positive roll demand raises the left motors, lowers the right.
	if !(out[1] > out[0] && out[2] > out[3]) {
		t.Errorf("roll demand distribution wrong: %v", out)
	}
	// Net thrust unchanged.
	sum := out[0] + out[1] + out[2] + out[3]
	if math.Abs(sum-2.0) > 1e-12 {
		t.Errorf("roll demand changed net thrust: %f", sum)
	}
}

func TestMixSaturationPreservesRatios(t *testing.T) {
	tbl := QuadXTable()
	// Large torque demand near full thrust forces rescaling.
	d := Demand{Roll: 0.8, Pitch: 0.4, Thrust: 0.9}
	out := tbl.Mix(d)

	for i, v := range out {
		if v < tbl.Channels[i].Min-1e-12 || v > tbl.Channels[i].Max+1e-12 {
			t.Fatalf("channel %d out of range: %f", i, v)
		}
	}

	// Per-channel torque contributions keep their relative proportions:
	// one common scale applies to all.
	var scales []float64
	for i, ch := range tbl.Channels {
		want := ch.Roll*d.Roll + ch.Pitch*d.Pitch + ch.Yaw*d.Yaw
		got := out[i] - ch.Thrust*d.Thrust
		if math.Abs(want) < 1e-9 {
			continue
		}
		scales = append(scales, got/want)
	}
	for _, s := range scales[1:] {
		if math.Abs(s-scales[0]) > 1e-9 {
			t.Errorf("torque scales differ across channels: %v", scales)
		}
	}
	if scales[0] >= 1 {
		t.Error("expected rescale below 1 under saturation")
	}
}

func TestMixZeroThrustFloors(t *testing.T) {
	tbl := QuadXTable()
	out := tbl.Mix(Demand{Roll: 0.5})
	for i, v := range out {
		if v < 0 {
			t.Errorf("motor %d below floor: %f", i, v)
		}
	}
}

func TestValidateRejectsEmptyTable(t *testing.T) {
	err := (Table{}).Validate()
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("got %v, want ErrNoChannels", err)
	}
}

func TestValidateRejectsUncoveredAxis(t *testing.T) {
	tbl := Table{
		Channels: []Channel{{Thrust: 1, Min: 0, Max: 1}},
		NeedRoll: true, NeedThrust: true,
	}
	err := tbl.Validate()
	if !errors.Is(err, ErrAxisUncovered) {
		t.Errorf("got %v, want ErrAxisUncovered", err)
	}
}

func TestValidateRejectsBadRange(t *testing.T) {
	tbl := Table{
		Channels:   []Channel{{Thrust: 1, Min: 1, Max: 0}},
		NeedThrust: true,
	}
	err := tbl.Validate()
	if !errors.Is(err, ErrBadRange) {
		t.Errorf("got %v, want ErrBadRange", err)
	}
}

func TestPresetTablesValidate(t *testing.T) {
	if err := QuadXTable().Validate(); err != nil {
		t.Errorf("quad x: %v", err)
	}
	if err := FlyingWingTable().Validate(); err != nil {
		t.Errorf("flying wing: %v", err)
	}
}

func TestFlyingWingElevons(t *testing.T) {
	tbl := FlyingWingTable()
	out := tbl.Mix(Demand{Pitch: 0.3, Thrust: 0.6})
	// Pitch moves both elevons the same way; motor carries thrust only.
	if out[0] != out[1] {
		t.Errorf("elevons disagree on pure pitch: %f vs %f", out[0], out[1])
	}
	if out[2] != 0.6 {
		t.Errorf("motor: got %f, want 0.6", out[2])
	}

	out = tbl.Mix(Demand{Roll: 0.3, Thrust: 0.6})
	if out[0] != -out[1] {
		t.Errorf("elevons should oppose on pure roll: %f vs %f", out[0], out[1])
	}
}

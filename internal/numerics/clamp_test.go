package numerics

import "testing"

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{
		-1.0: 0,
		0.0:  0,
		0.5:  0.5,
		1.0:  1,
		2.5:  1,
	}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestAbs(t *testing.T) {
	if got := Abs(-3.5); got != 3.5 {
		t.Errorf("Abs(-3.5) = %v, want 3.5", got)
	}
	if got := Abs(3.5); got != 3.5 {
		t.Errorf("Abs(3.5) = %v, want 3.5", got)
	}
}

func TestMaxMin(t *testing.T) {
	if got := Max(1, 2); got != 2 {
		t.Errorf("Max(1, 2) = %v, want 2", got)
	}
	if got := Min(1, 2); got != 1 {
		t.Errorf("Min(1, 2) = %v, want 1", got)
	}
}

package platform

import "testing"

func TestStopStateString(t *testing.T) {
	cases := []struct {
		state StopState
		want  string
	}{
		{NoStop, "no_stop"},
		{LowHit, "low_hit"},
		{HighHit, "high_hit"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("StopState(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}

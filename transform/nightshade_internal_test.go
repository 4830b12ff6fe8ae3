package transform

import "testing"

// TestRollLeftward_MatchesNumpyRollSemantics locks in np.roll(arr,
// shift=5, axis=1)'s actual index mapping: shifted[x] = arr[(x-shift)
// mod w]. A prior implementation computed arr[(x+shift) mod w] instead,
// which rolls the array the opposite direction from both spec.md §4.1
// and protection_pipeline.py.
func TestRollLeftward_MatchesNumpyRollSemantics(t *testing.T) {
	const w = 10
	cases := []struct{ x, shift, want int }{
		{0, 5, 5},
		{5, 5, 0},
		{2, 5, 7},
		{7, 5, 2},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := rollLeftward(c.x, c.shift, w); got != c.want {
			t.Errorf("rollLeftward(%d, %d, %d) = %d, want %d", c.x, c.shift, w, got, c.want)
		}
	}
}

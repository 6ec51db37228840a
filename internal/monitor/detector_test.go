package monitor

import (
	"testing"

	"pgregory.net/rapid"
)

func TestJustSetScenarios(t *testing.T) {
	t.Parallel()

	f0 := FlagEditorStarted
	tests := []struct {
		name string
		prev ParsedState
		cur  Mask
		want bool
	}{
		{name: "rising edge", prev: Observed(0b00), cur: 0b01, want: true},
		{name: "stays set", prev: Observed(0b01), cur: 0b01, want: false},
		{name: "first poll", prev: ParsedState{}, cur: 0b01, want: false},
		{name: "cleared", prev: Observed(0b01), cur: 0b00, want: false},
		{name: "other bit rises", prev: Observed(0b00), cur: 0b10, want: false},
		{name: "absent log", prev: Observed(0b01), cur: 0, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := JustSet(tt.prev, tt.cur, f0); got != tt.want {
				t.Fatalf("JustSet(%v, %s, %s) = %v, want %v", tt.prev, tt.cur, f0, got, tt.want)
			}
		})
	}
}

func TestRising(t *testing.T) {
	t.Parallel()

	prev := Observed(Mask(FlagEditorStarted))
	cur := Mask(FlagEditorStarted) | Mask(FlagPIEStarted) | Mask(FlagEditorExiting)

	got := Rising(prev, cur, AllFlags)
	if len(got) != 2 || got[0] != FlagPIEStarted || got[1] != FlagEditorExiting {
		t.Fatalf("Rising = %v", got)
	}

	got = Rising(prev, cur, Mask(FlagEditorExiting))
	if len(got) != 1 || got[0] != FlagEditorExiting {
		t.Fatalf("Rising tracked = %v", got)
	}

	if got := Rising(ParsedState{}, cur, AllFlags); len(got) != 0 {
		t.Fatalf("Rising on first poll = %v", got)
	}
}

func genFlag() *rapid.Generator[Flag] {
	return rapid.Custom(func(t *rapid.T) Flag {
		defs := Flags()
		return defs[rapid.IntRange(0, len(defs)-1).Draw(t, "flag")].Flag
	})
}

func genMask() *rapid.Generator[Mask] {
	return rapid.Custom(func(t *rapid.T) Mask {
		return Mask(rapid.Uint32().Draw(t, "mask"))
	})
}

func TestJustSetProperties(t *testing.T) {
	t.Parallel()

	t.Run("absent previous never fires", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			cur := genMask().Draw(t, "cur")
			f := genFlag().Draw(t, "f")
			if JustSet(ParsedState{}, cur, f) {
				t.Fatalf("fired without previous state")
			}
		})
	})

	t.Run("fires iff unset then set", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genMask().Draw(t, "a")
			b := genMask().Draw(t, "b")
			f := genFlag().Draw(t, "f")
			want := a&Mask(f) == 0 && b&Mask(f) != 0
			if got := JustSet(Observed(a), b, f); got != want {
				t.Fatalf("JustSet(%#x, %#x, %s) = %v, want %v", uint32(a), uint32(b), f, got, want)
			}
		})
	})

	t.Run("idempotent", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genMask().Draw(t, "a")
			b := genMask().Draw(t, "b")
			f := genFlag().Draw(t, "f")
			if JustSet(Observed(a), b, f) != JustSet(Observed(a), b, f) {
				t.Fatalf("results differ between calls")
			}
		})
	})

	t.Run("held flag notifies once over N polls", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			f := genFlag().Draw(t, "f")
			n := rapid.IntRange(2, 20).Draw(t, "polls")
			prev := Observed(0)
			fired := 0
			for i := 0; i < n; i++ {
				cur := Mask(f)
				if JustSet(prev, cur, f) {
					fired++
				}
				prev = Observed(cur)
			}
			if fired != 1 {
				t.Fatalf("fired %d times over %d polls", fired, n)
			}
		})
	})
}

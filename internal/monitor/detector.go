package monitor

// JustSet reports a rising edge of f: prev is a completed poll where f was
// unset and f is set in cur. The first poll (prev absent) never fires.
func JustSet(prev ParsedState, cur Mask, f Flag) bool {
	if !prev.Valid {
		return false
	}
	return !prev.Mask.Has(f) && cur.Has(f)
}

// Rising returns the tracked flags that JustSet reports, in bit order.
func Rising(prev ParsedState, cur Mask, tracked Mask) []Flag {
	var out []Flag
	for _, d := range flagDefs {
		if tracked.Has(d.Flag) && JustSet(prev, cur, d.Flag) {
			out = append(out, d.Flag)
		}
	}
	return out
}

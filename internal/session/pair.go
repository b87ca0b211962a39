package session

// PairKey identifies a session by its unordered pair of participant IDs.
// Normalizing the order makes Session(A,B) and Session(B,A) the same map key,
// which is what enforces the at-most-one-session-per-pair invariant.
type PairKey struct {
	Lo, Hi string
}

func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Involves reports whether id is one of the pair.
func (k PairKey) Involves(id string) bool {
	return k.Lo == id || k.Hi == id
}

// Package randx provides a tiny deterministic PRNG for jitter on targets
// where pulling in math/rand is overweight. Not for anything
// security-sensitive.
package randx

// LCG is a 32-bit linear congruential generator (Numerical Recipes
// constants). The zero value is a valid generator seeded at 0.
type LCG struct {
	state uint32
}

func NewLCG(seed uint32) *LCG {
	return &LCG{state: seed}
}

func (g *LCG) Seed(seed uint32) { g.state = seed }

func (g *LCG) Next() uint32 {
	g.state = g.state*1664525 + 1013904223
	return g.state
}

// Uint32n returns a value in [0, n). n of 0 returns 0.
func (g *LCG) Uint32n(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return g.Next() % n
}

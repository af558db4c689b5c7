package sampling

import "fmt"

// Halton returns the radical inverse of index in the given base
func Halton(index, base int) float64 {
	f, r := 1.0, 0.0
	for i := index; i > 0; i /= base {
		f /= float64(base)
		r += f * float64(i%base)
	}
	return r
}

// Primes returns the first n primes that are >= from
func Primes(n, from int) []int {
	out := make([]int, 0, n)
	for c := max(from, 2); len(out) < n; c++ {
		if isPrime(c) {
			out = append(out, c)
		}
	}
	return out
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// HaltonSequence returns n points of the Halton sequence, one coordinate per
// base. Index 0 is skipped so no point sits on the origin.
func HaltonSequence(n int, bases []int) ([][]float64, error) {
	for _, b := range bases {
		if b < 2 {
			return nil, &DomainError{Reason: fmt.Sprintf("halton base must be >= 2, got %d", b)}
		}
	}
	out := make([][]float64, n)
	for i := range out {
		pt := make([]float64, len(bases))
		for d, b := range bases {
			pt[d] = Halton(i+1, b)
		}
		out[i] = pt
	}
	return out, nil
}

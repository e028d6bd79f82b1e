// Package vector provides the small float32 vector math used by the
// index and search layers: dot product, magnitude, cosine similarity,
// normalisation, and validity checks.
package vector

import "math"

// Dot returns the dot product of u and v. Returns 0 when the dimensions
// differ; alignment is the caller's responsibility.
func Dot(u, v []float32) float64 {
	if len(u) != len(v) {
		return 0
	}
	var sum float64
	for i := range u {
		sum += float64(u[i]) * float64(v[i])
	}
	return sum
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity between u and v, in [-1, 1].
// Returns 0 when either magnitude is 0 or the dimensions differ.
func Cosine(u, v []float32) float64 {
	if len(u) != len(v) {
		return 0
	}
	var dot, nu, nv float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		nu += float64(u[i]) * float64(u[i])
		nv += float64(v[i]) * float64(v[i])
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	return dot / (math.Sqrt(nu) * math.Sqrt(nv))
}

// Normalize returns a new vector with unit L2 norm. A zero vector is
// returned unchanged (as a copy).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	mag := Magnitude(v)
	if mag == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// IsValid reports whether v is a usable embedding: non-empty and free of
// NaN and infinite components.
func IsValid(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

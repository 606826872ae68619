package descriptor

import "math"

// #region normalizer
// Normalizer z-scores descriptor values against a reference population and
// projects them onto the unit sphere. It is immutable once fitted.
type Normalizer struct {
	fields []string
	mean   []float64
	std    []float64
}

// Fit computes per-field mean and standard deviation over the finite values of
// the population. Fields with no observations get mean 0; zero spread gets std 1.
func Fit(fields []string, population []Values) *Normalizer {
	n := &Normalizer{
		fields: append([]string(nil), fields...),
		mean:   make([]float64, len(fields)),
		std:    make([]float64, len(fields)),
	}
	for i, f := range fields {
		var sum float64
		var count int
		for _, v := range population {
			if x, ok := v[f]; ok && finite(x) {
				sum += x
				count++
			}
		}
		if count == 0 {
			n.std[i] = 1
			continue
		}
		mean := sum / float64(count)
		var ss float64
		for _, v := range population {
			if x, ok := v[f]; ok && finite(x) {
				d := x - mean
				ss += d * d
			}
		}
		std := math.Sqrt(ss / float64(count))
		if std == 0 {
			std = 1
		}
		n.mean[i] = mean
		n.std[i] = std
	}
	return n
}

// Fields returns the descriptor fields in vector order.
func (n *Normalizer) Fields() []string {
	return append([]string(nil), n.fields...)
}

// Transform returns the z-scored, L2-normalised vector for v. Null fields are
// imputed at the population mean. ok is false when v has no usable field or the
// vector has zero norm, i.e. physical similarity is unavailable.
func (n *Normalizer) Transform(v Values) ([]float64, bool) {
	if n == nil || len(n.fields) == 0 {
		return nil, false
	}
	out := make([]float64, len(n.fields))
	present := 0
	for i, f := range n.fields {
		x, ok := v[f]
		if !ok || !finite(x) {
			continue
		}
		present++
		out[i] = (x - n.mean[i]) / n.std[i]
	}
	if present == 0 {
		return nil, false
	}
	var norm float64
	for _, x := range out {
		norm += x * x
	}
	if norm == 0 {
		return nil, false
	}
	inv := 1 / math.Sqrt(norm)
	for i := range out {
		out[i] *= inv
	}
	return out, true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// #endregion normalizer

// #region similarity
// Similarity maps the cosine of two unit vectors from [-1,1] to [0,1].
// Mismatched or empty vectors score 0.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return clamp01((dot + 1) / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion similarity

// Package stats holds the pure, deterministic statistical kernels shared by
// every analysis job. None of these functions perform I/O and none of them
// return an error: degenerate inputs (empty samples, zero variance,
// insufficient history) yield the documented neutral value rather than
// failing, so callers can apply a kernel to a candidate group without first
// proving the group is well-formed.
package stats

import (
	"math"
	"sort"
)

// Quantile returns the q-th quantile (0<=q<=1) of sorted using linear
// interpolation. sorted must already be sorted ascending. q=0 and q=1
// return the min/max exactly; q=0.5 is the median.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Median is Quantile at q=0.5 over a copy of values, sorted internally.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := sortedCopy(values)
	return Quantile(s, 0.5)
}

// MAD returns the median absolute deviation from the median.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return Median(devs)
}

// RobustZScore returns 0.6745*(x-median)/MAD, defined as 0 when MAD is 0.
func RobustZScore(x float64, history []float64) float64 {
	med := Median(history)
	mad := MAD(history)
	if mad == 0 {
		return 0
	}
	return 0.6745 * (x - med) / mad
}

// IQRBounds returns [Q1-k*IQR, Q3+k*IQR] for the given sample, k defaulting
// to 1.5 when k<=0 is passed.
func IQRBounds(values []float64, k float64) (lower, upper float64) {
	if k <= 0 {
		k = 1.5
	}
	if len(values) == 0 {
		return 0, 0
	}
	s := sortedCopy(values)
	q1 := Quantile(s, 0.25)
	q3 := Quantile(s, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Mean returns the arithmetic mean, 0 for an empty sample.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the sample (n-1) variance, 0 when fewer than 2 values.
func Variance(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return ss / float64(n-1)
}

// StdDev is the square root of Variance.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// WelchResult is the outcome of a two-sample Welch's t-test.
type WelchResult struct {
	T          float64
	DF         float64
	PValue     float64
	MeanA      float64
	MeanB      float64
	EffectSize float64
	NA         int
	NB         int
}

// Welch computes a two-sided Welch's t-test. Both samples must have at
// least 2 elements; callers are responsible for that precondition -
// passing shorter samples yields a degenerate WelchResult with t=0, p=1.
func Welch(a, b []float64) WelchResult {
	na, nb := len(a), len(b)
	if na < 2 || nb < 2 {
		return WelchResult{PValue: 1, NA: na, NB: nb}
	}
	meanA, meanB := Mean(a), Mean(b)
	varA, varB := Variance(a), Variance(b)
	seA2 := varA / float64(na)
	seB2 := varB / float64(nb)
	se := math.Sqrt(seA2 + seB2)
	effect := meanA - meanB

	result := WelchResult{
		MeanA:      meanA,
		MeanB:      meanB,
		EffectSize: effect,
		NA:         na,
		NB:         nb,
	}

	if se == 0 {
		if effect == 0 {
			result.T = 0
			result.PValue = 1
			result.DF = float64(na + nb - 2)
			return result
		}
		result.T = math.Inf(1)
		if effect < 0 {
			result.T = math.Inf(-1)
		}
		result.PValue = 0
		result.DF = float64(na + nb - 2)
		return result
	}

	t := effect / se
	df := math.Pow(seA2+seB2, 2) / (math.Pow(seA2, 2)/float64(na-1) + math.Pow(seB2, 2)/float64(nb-1))
	result.T = t
	result.DF = df
	result.PValue = twoSidedPValue(t)
	return result
}

// twoSidedPValue approximates the Student-t two-sided p-value with the
// standard normal CDF, valid for moderate-to-large df as the spec permits.
func twoSidedPValue(t float64) float64 {
	if math.IsInf(t, 0) {
		return 0
	}
	return 2 * (1 - stdNormalCDF(math.Abs(t)))
}

// stdNormalCDF uses the Abramowitz-Stegun 7.1.26 erf approximation,
// accurate to |error| < 1.5e-7 for |x| <= 4.
func stdNormalCDF(x float64) float64 {
	return 0.5 * (1 + erf(x/math.Sqrt2))
}

func erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// BHResult is one entry of a Benjamini-Hochberg correction pass.
type BHResult struct {
	PValue      float64
	QValue      float64
	Significant bool
}

// BenjaminiHochberg takes p-values in arbitrary order and an FDR level
// alpha, and returns q-values and significance flags aligned to the input
// order. Internally it sorts ascending, applies the backward monotonic
// recursion q_i = min(q_{i+1}, p_i*m/rank_i), then unsorts.
func BenjaminiHochberg(pValues []float64, alpha float64) []BHResult {
	m := len(pValues)
	out := make([]BHResult, m)
	if m == 0 {
		return out
	}
	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return pValues[idx[i]] < pValues[idx[j]] })
	q := make([]float64, m)
	q[m-1] = pValues[idx[m-1]]
	for rank := m - 1; rank >= 1; rank-- {
		i := rank - 1
		candidate := pValues[idx[i]] * float64(m) / float64(rank)
		if candidate > q[rank] {
			candidate = q[rank]
		}
		q[i] = candidate
	}
	for rank, i := range idx {
		qv := q[rank]
		if qv > 1 {
			qv = 1
		}
		out[i] = BHResult{
			PValue:      pValues[i],
			QValue:      qv,
			Significant: qv <= alpha,
		}
	}
	return out
}

// EWMA computes the exponentially weighted moving average series with
// e_0 = x_0 and e_i = lambda*x_i + (1-lambda)*e_(i-1).
func EWMA(values []float64, lambda float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = lambda*values[i] + (1-lambda)*out[i-1]
	}
	return out
}

// CUSUMResult holds the two-sided CUSUM series and whether either arm
// crossed its threshold at the final point.
type CUSUMResult struct {
	Plus       []float64
	Minus      []float64
	Signal     bool
}

// CUSUM computes the two-sided cumulative-sum change-point statistic
// against target mu with slack k and threshold h.
func CUSUM(values []float64, mu, k, h float64) CUSUMResult {
	n := len(values)
	out := CUSUMResult{Plus: make([]float64, n), Minus: make([]float64, n)}
	if n == 0 {
		return out
	}
	var sPlus, sMinus float64
	for i, x := range values {
		sPlus = math.Max(0, sPlus+(x-mu-k))
		sMinus = math.Min(0, sMinus+(x-mu+k))
		out.Plus[i] = sPlus
		out.Minus[i] = sMinus
	}
	last := n - 1
	out.Signal = out.Plus[last] > h || math.Abs(out.Minus[last]) > h
	return out
}

const psiEpsilon = 1e-6

// PSI computes the Population Stability Index between a baseline and
// current sample, using nBins bin edges derived from baseline quantiles.
func PSI(baseline, current []float64, nBins int) float64 {
	if len(baseline) == 0 || len(current) == 0 || nBins <= 0 {
		return 0
	}
	sortedBase := sortedCopy(baseline)
	edges := make([]float64, 0, nBins+1)
	for i := 0; i <= nBins; i++ {
		edges = append(edges, Quantile(sortedBase, float64(i)/float64(nBins)))
	}
	edges = dedupeSorted(edges)
	if len(edges) < 2 {
		return 0
	}
	nb := len(edges) - 1
	baseCounts := make([]float64, nb)
	curCounts := make([]float64, nb)
	for _, v := range baseline {
		baseCounts[binIndex(edges, v)]++
	}
	for _, v := range current {
		curCounts[binIndex(edges, v)]++
	}
	var psi float64
	for i := 0; i < nb; i++ {
		pb := baseCounts[i] / float64(len(baseline))
		pc := curCounts[i] / float64(len(current))
		if pb < psiEpsilon {
			pb = psiEpsilon
		}
		if pc < psiEpsilon {
			pc = psiEpsilon
		}
		psi += (pc - pb) * math.Log(pc/pb)
	}
	return psi
}

// binIndex returns max{i : edges[i] <= x}, clamped into the closed final
// bin so that x at or above the last edge lands in the last bin.
func binIndex(edges []float64, x float64) int {
	idx := 0
	for i, e := range edges {
		if e <= x {
			idx = i
		} else {
			break
		}
	}
	if idx >= len(edges)-1 {
		idx = len(edges) - 2
	}
	return idx
}

func dedupeSorted(edges []float64) []float64 {
	out := edges[:0:0]
	for i, e := range edges {
		if i == 0 || e != out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}

// Wasserstein1D approximates the 1D Wasserstein (earth-mover) distance
// between two unequal-length sorted samples by averaging absolute
// differences between n = min(len(a), len(b)) matched quantile positions.
func Wasserstein1D(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := sortedCopy(a)
	sb := sortedCopy(b)
	na, nb := len(sa), len(sb)
	n := na
	if nb < n {
		n = nb
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		ai := sa[(i*na)/n]
		bi := sb[(i*nb)/n]
		sum += math.Abs(ai - bi)
	}
	return sum / float64(n)
}

// Pearson returns the Pearson correlation coefficient, 0 when either
// series has zero variance or the inputs are mismatched/too short.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}
	meanA, meanB := Mean(a), Mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// Sharpe returns mean/stddev * sqrt(annualization). annualization<=0
// defaults to 252 (spec's decision: the same constant for every horizon).
func Sharpe(values []float64, annualization float64) float64 {
	if annualization <= 0 {
		annualization = 252
	}
	sd := StdDev(values)
	if sd == 0 {
		return 0
	}
	return (Mean(values) / sd) * math.Sqrt(annualization)
}

// TStatMean returns mean / (stddev/sqrt(n)), 0 on degenerate inputs.
func TStatMean(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sd := StdDev(values)
	if sd == 0 {
		return 0
	}
	return Mean(values) / (sd / math.Sqrt(float64(n)))
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// SortedCopy exposes sortedCopy to callers outside this package that
// need to feed Quantile a sorted slice without mutating their own.
func SortedCopy(values []float64) []float64 {
	return sortedCopy(values)
}

package transform

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tabsynth/tabsynth/pkg/errors"
)

const (
	gmmMaxIterations = 100
	gmmTolerance     = 1e-6
	gmmStddevFloor   = 1e-6
	gmmMergeScale    = 0.1
)

// GaussianMixture is a one-dimensional Gaussian mixture fitted by
// expectation-maximization. Components are ordered by ascending mean.
type GaussianMixture struct {
	Weights []float64 `json:"weights"`
	Means   []float64 `json:"means"`
	Stddevs []float64 `json:"stddevs"`
}

// NumComponents returns the number of mixture components.
func (g *GaussianMixture) NumComponents() int {
	return len(g.Weights)
}

// MostProbableComponent returns the index of the component with the highest
// posterior responsibility for v. Ties break to the lowest index.
func (g *GaussianMixture) MostProbableComponent(v float64) int {
	best := 0
	bestScore := math.Inf(-1)
	for k := range g.Weights {
		n := distuv.Normal{Mu: g.Means[k], Sigma: g.Stddevs[k]}
		score := g.Weights[k] * n.Prob(v)
		if score > bestScore {
			bestScore = score
			best = k
		}
	}
	return best
}

// FitGaussianMixture fits a mixture with at most maxComponents components and
// prunes components whose converged weight falls below weightFloor. The fit is
// deterministic: initialization uses data quantiles, not random restarts.
func FitGaussianMixture(values []float64, maxComponents int, weightFloor float64) (*GaussianMixture, error) {
	if len(values) == 0 {
		return nil, errors.NewAppError(errors.ErrorTypeSchema, errors.CodeInsufficientData,
			"cannot fit mixture on an empty column")
	}

	k := maxComponents
	if distinct := countDistinct(values); distinct < k {
		k = distinct
	}
	if k < 1 {
		k = 1
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	overallStd := math.Sqrt(stat.Variance(values, nil))
	if overallStd < gmmStddevFloor {
		overallStd = gmmStddevFloor
	}

	mix := &GaussianMixture{
		Weights: make([]float64, k),
		Means:   make([]float64, k),
		Stddevs: make([]float64, k),
	}
	for i := 0; i < k; i++ {
		q := (float64(i) + 0.5) / float64(k)
		mix.Weights[i] = 1.0 / float64(k)
		mix.Means[i] = stat.Quantile(q, stat.Empirical, sorted, nil)
		mix.Stddevs[i] = overallStd
	}

	if k == 1 {
		mix.Means[0] = stat.Mean(values, nil)
		return mix, nil
	}

	resp := make([][]float64, len(values))
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	prevLogLik := math.Inf(-1)
	for iter := 0; iter < gmmMaxIterations; iter++ {
		logLik := expectation(values, mix, resp)
		maximization(values, mix, resp)

		if math.Abs(logLik-prevLogLik) < gmmTolerance*(1+math.Abs(logLik)) {
			break
		}
		prevLogLik = logLik
	}

	prune(mix, weightFloor)
	sortByMean(mix)
	mergeClose(mix)
	return mix, nil
}

// expectation computes responsibilities and returns the data log-likelihood.
func expectation(values []float64, mix *GaussianMixture, resp [][]float64) float64 {
	k := mix.NumComponents()
	var logLik float64
	for i, v := range values {
		total := 0.0
		for j := 0; j < k; j++ {
			n := distuv.Normal{Mu: mix.Means[j], Sigma: mix.Stddevs[j]}
			resp[i][j] = mix.Weights[j] * n.Prob(v)
			total += resp[i][j]
		}
		if total <= 0 {
			// Value far in the tails of every component: assign to nearest.
			nearest := 0
			for j := 1; j < k; j++ {
				if math.Abs(v-mix.Means[j]) < math.Abs(v-mix.Means[nearest]) {
					nearest = j
				}
			}
			for j := 0; j < k; j++ {
				resp[i][j] = 0
			}
			resp[i][nearest] = 1
			continue
		}
		for j := 0; j < k; j++ {
			resp[i][j] /= total
		}
		logLik += math.Log(total)
	}
	return logLik
}

// maximization re-estimates weights, means and stddevs from responsibilities.
func maximization(values []float64, mix *GaussianMixture, resp [][]float64) {
	k := mix.NumComponents()
	n := float64(len(values))

	for j := 0; j < k; j++ {
		var nj, mean float64
		for i, v := range values {
			nj += resp[i][j]
			mean += resp[i][j] * v
		}
		if nj <= 0 {
			// Dead component: leave its parameters in place with zero weight;
			// pruning removes it after convergence.
			mix.Weights[j] = 0
			continue
		}
		mean /= nj

		var variance float64
		for i, v := range values {
			d := v - mean
			variance += resp[i][j] * d * d
		}
		variance /= nj

		mix.Weights[j] = nj / n
		mix.Means[j] = mean
		mix.Stddevs[j] = math.Max(math.Sqrt(variance), gmmStddevFloor)
	}
}

// prune drops components below the weight floor, keeping at least the single
// heaviest component, and renormalizes the remaining weights.
func prune(mix *GaussianMixture, weightFloor float64) {
	heaviest := 0
	for j := 1; j < mix.NumComponents(); j++ {
		if mix.Weights[j] > mix.Weights[heaviest] {
			heaviest = j
		}
	}

	var w, m, s []float64
	var total float64
	for j := 0; j < mix.NumComponents(); j++ {
		if mix.Weights[j] >= weightFloor || j == heaviest {
			w = append(w, mix.Weights[j])
			m = append(m, mix.Means[j])
			s = append(s, mix.Stddevs[j])
			total += mix.Weights[j]
		}
	}
	if total > 0 {
		for j := range w {
			w[j] /= total
		}
	} else {
		for j := range w {
			w[j] = 1.0 / float64(len(w))
		}
	}

	mix.Weights, mix.Means, mix.Stddevs = w, m, s
}

// mergeClose folds adjacent components whose means are indistinguishable at
// the scale of their spread into a single component, so one mode of the data
// does not end up split across near-duplicate components. Splitting matters
// for the weighted-density argmax: two half-weight duplicates can each lose to
// a heavier component that a single merged component would beat. Components
// must already be sorted by mean.
func mergeClose(mix *GaussianMixture) {
	w := []float64{mix.Weights[0]}
	m := []float64{mix.Means[0]}
	s := []float64{mix.Stddevs[0]}

	for j := 1; j < mix.NumComponents(); j++ {
		last := len(w) - 1
		if mix.Means[j]-m[last] > gmmMergeScale*math.Max(s[last], mix.Stddevs[j]) {
			w = append(w, mix.Weights[j])
			m = append(m, mix.Means[j])
			s = append(s, mix.Stddevs[j])
			continue
		}

		wj := mix.Weights[j]
		total := w[last] + wj
		mean := (w[last]*m[last] + wj*mix.Means[j]) / total
		second := (w[last]*(s[last]*s[last]+m[last]*m[last]) +
			wj*(mix.Stddevs[j]*mix.Stddevs[j]+mix.Means[j]*mix.Means[j])) / total
		variance := second - mean*mean

		w[last] = total
		m[last] = mean
		s[last] = math.Max(math.Sqrt(math.Max(variance, 0)), gmmStddevFloor)
	}

	mix.Weights, mix.Means, mix.Stddevs = w, m, s
}

func sortByMean(mix *GaussianMixture) {
	idx := make([]int, mix.NumComponents())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return mix.Means[idx[a]] < mix.Means[idx[b]] })

	w := make([]float64, len(idx))
	m := make([]float64, len(idx))
	s := make([]float64, len(idx))
	for pos, i := range idx {
		w[pos], m[pos], s[pos] = mix.Weights[i], mix.Means[i], mix.Stddevs[i]
	}
	mix.Weights, mix.Means, mix.Stddevs = w, m, s
}

func countDistinct(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

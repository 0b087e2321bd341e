// internal/strategy/adaptive.go
package strategy

import "github.com/harborline/meridian/internal/region"

// adaptiveFeatures is the number of features scored per candidate.
const adaptiveFeatures = 4

// adaptive scores each candidate on inverted resource pressure, inverted
// error rate, and raw throughput, min-max normalizes each feature across
// the candidate set, and draws proportionally to the per-candidate mean.
// A weighted draw rather than argmax preserves load spreading when one
// region is only marginally best. Degenerate weight sets fall back to the
// first candidate.
func (p *Picker) adaptive(views []View) region.Region {
	weights := adaptiveWeights(views)
	if len(weights) == 0 {
		return views[0].Region
	}

	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return views[0].Region
	}

	target := p.float64() * total
	cumulative := 0.0
	for i, v := range views {
		if weights[i] <= 0 {
			continue
		}
		cumulative += weights[i]
		if target < cumulative {
			return v.Region
		}
	}
	return views[0].Region
}

// adaptiveWeights returns one scalar per view: the mean of its min-max
// normalized features. A flat feature column carries no signal and scores
// neutral for every candidate.
func adaptiveWeights(views []View) []float64 {
	if len(views) == 0 {
		return nil
	}

	features := make([][adaptiveFeatures]float64, len(views))
	for i, v := range views {
		features[i] = [adaptiveFeatures]float64{
			1 - v.CPU/100,
			1 - v.Memory/100,
			1 - v.ErrorRate,
			v.Throughput,
		}
	}

	weights := make([]float64, len(views))
	for f := 0; f < adaptiveFeatures; f++ {
		lo, hi := features[0][f], features[0][f]
		for _, row := range features[1:] {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}

		span := hi - lo
		for i := range features {
			normalized := 0.5
			if span > 0 {
				normalized = (features[i][f] - lo) / span
			}
			weights[i] += normalized / adaptiveFeatures
		}
	}
	return weights
}

package hate

// TierFunc maps a hate value to an ambush tier (1..5)
type TierFunc func(hate float64) int

// StepTiers returns a TierFunc where tier i+1 starts at thresholds[i].
// Values below the first threshold are tier 1.
func StepTiers(thresholds []float64) TierFunc {
	steps := append([]float64(nil), thresholds...)
	return func(hate float64) int {
		tier := 1
		for i, t := range steps {
			if hate >= t {
				tier = i + 1
			}
		}
		return tier
	}
}

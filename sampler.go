package deepargo

import "math/rand"

// sampleGaussian draws one value from N(mu, sigma).
func sampleGaussian(rng *rand.Rand, mu, sigma float32) float32 {
	return mu + sigma*float32(rng.NormFloat64())
}

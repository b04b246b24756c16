package deepargo

import "math"

func Abs(x float32) float32 {
	if x > 0 {
		return x
	}
	return -x
}

func Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

func Log(x float32) float32 {
	return float32(math.Log(float64(x)))
}

func Log1p(x float32) float32 {
	return float32(math.Log1p(float64(x)))
}

func IsNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

func Pow(x, y float32) float32 {
	return float32(math.Pow(float64(x), float64(y)))
}

func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// Softplus computes log(1+exp(x)) without overflowing for large x.
func Softplus(x float32) float32 {
	if x > 20 {
		return x
	}
	return Log1p(Exp(x))
}

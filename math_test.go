package deepargo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delta = 1e-5

func TestInputForward(t *testing.T) {
	type args struct {
		feats []float32
		emb   []float32
		ids   []int32
		B     int
		T     int
		F     int
		E     int
	}
	tests := []struct {
		name    string
		args    args
		wantOut []float32
	}{
		{
			name: "two samples one step",
			args: args{
				feats: []float32{1, 2, 3, 4}, // (B=2, T=1, F=2)
				emb:   []float32{0, 0, 5, 6}, // (S=2, E=2)
				ids:   []int32{1, 0},
				B:     2,
				T:     1,
				F:     2,
				E:     2,
			},
			wantOut: []float32{1, 2, 5, 6, 3, 4, 0, 0},
		},
		{
			name: "time major ordering",
			args: args{
				feats: []float32{1, 2, 3, 4}, // (B=2, T=2, F=1)
				emb:   []float32{7},          // (S=1, E=1)
				ids:   []int32{0, 0},
				B:     2,
				T:     2,
				F:     1,
				E:     1,
			},
			// step 0 holds both samples' first features, step 1 the second
			wantOut: []float32{1, 7, 3, 7, 2, 7, 4, 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, tt.args.B*tt.args.T*(tt.args.F+tt.args.E))
			inputForward(out, tt.args.feats, tt.args.emb, tt.args.ids, tt.args.B, tt.args.T, tt.args.F, tt.args.E)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestInputBackward(t *testing.T) {
	// two samples share embedding row 1, so its gradients accumulate twice
	demb := make([]float32, 4) // (S=2, E=2)
	dout := []float32{1, 2, 3, 10, 20, 30}
	inputBackward(demb, dout, []int32{1, 1}, 2, 1, 1, 2)
	assert.Equal(t, []float32{0, 0, 2 + 20, 3 + 30}, demb)
}

func TestAffineForward(t *testing.T) {
	type args struct {
		inp    []float32
		weight []float32
		bias   []float32
		B      int
		T      int
		C      int
		OC     int
	}
	tests := []struct {
		name    string
		args    args
		wantOut []float32
	}{
		{
			name: "with bias",
			args: args{
				inp:    []float32{1, 2},
				weight: []float32{3, 4},
				bias:   []float32{10},
				B:      1,
				T:      1,
				C:      2,
				OC:     1,
			},
			wantOut: []float32{21},
		},
		{
			name: "nil bias two rows",
			args: args{
				inp:    []float32{1, 0, 0, 1},
				weight: []float32{2, 3},
				B:      1,
				T:      2,
				C:      2,
				OC:     1,
			},
			wantOut: []float32{2, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, tt.args.B*tt.args.T*tt.args.OC)
			affineForward(out, tt.args.inp, tt.args.weight, tt.args.bias, tt.args.B, tt.args.T, tt.args.C, tt.args.OC)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestAffineBackwardFiniteDifference(t *testing.T) {
	const (
		B, T, C, OC = 2, 3, 4, 1
		h           = 1e-3
	)
	rng := rand.New(rand.NewSource(1))
	inp := randomSlice(rng, B*T*C)
	weight := randomSlice(rng, OC*C)
	bias := randomSlice(rng, OC)
	dout := randomSlice(rng, B*T*OC)

	loss := func(inp, weight, bias []float32) float32 {
		out := make([]float32, B*T*OC)
		affineForward(out, inp, weight, bias, B, T, C, OC)
		var l float32
		for i, d := range dout {
			l += out[i] * d
		}
		return l
	}

	dinp := make([]float32, len(inp))
	dweight := make([]float32, len(weight))
	dbias := make([]float32, len(bias))
	affineBackward(dinp, dweight, dbias, dout, inp, weight, B, T, C, OC)

	checkGradient(t, inp, dinp, h, func() float32 { return loss(inp, weight, bias) })
	checkGradient(t, weight, dweight, h, func() float32 { return loss(inp, weight, bias) })
	checkGradient(t, bias, dbias, h, func() float32 { return loss(inp, weight, bias) })
}

func TestLSTMCellForward(t *testing.T) {
	// single unit, worked by hand from the gate equations
	x := []float32{1}
	hPrev := []float32{0.5}
	cPrev := []float32{0.2}
	wx := []float32{0.1, 0.2, 0.3, 0.4}
	wh := []float32{0.5, 0.6, 0.7, 0.8}
	bias := []float32{0, 0, 0, 0}

	h := make([]float32, 1)
	cell := make([]float32, 1)
	gates := make([]float32, 4)
	lstmCellForward(h, cell, gates, x, hPrev, cPrev, wx, wh, bias, 1, 1, 1)

	i := Sigmoid(0.1*1 + 0.5*0.5)
	f := Sigmoid(0.2*1 + 0.6*0.5)
	g := Tanh(0.3*1 + 0.7*0.5)
	o := Sigmoid(0.4*1 + 0.8*0.5)
	wantC := f*0.2 + i*g
	wantH := o * Tanh(wantC)

	assert.InDelta(t, i, gates[0], delta)
	assert.InDelta(t, f, gates[1], delta)
	assert.InDelta(t, g, gates[2], delta)
	assert.InDelta(t, o, gates[3], delta)
	assert.InDelta(t, wantC, cell[0], delta)
	assert.InDelta(t, wantH, h[0], delta)
}

func TestLSTMCellForwardInPlaceState(t *testing.T) {
	// decoding reuses the state buffers as both input and output
	const B, C, H = 2, 3, 2
	rng := rand.New(rand.NewSource(7))
	x := randomSlice(rng, B*C)
	hState := randomSlice(rng, B*H)
	cState := randomSlice(rng, B*H)
	wx := randomSlice(rng, 4*H*C)
	wh := randomSlice(rng, 4*H*H)
	bias := randomSlice(rng, 4*H)

	hCopy := append([]float32(nil), hState...)
	cCopy := append([]float32(nil), cState...)
	wantH := make([]float32, B*H)
	wantC := make([]float32, B*H)
	gates := make([]float32, B*4*H)
	lstmCellForward(wantH, wantC, gates, x, hCopy, cCopy, wx, wh, bias, B, C, H)

	lstmCellForward(hState, cState, gates, x, hState, cState, wx, wh, bias, B, C, H)
	assertInDeltaSlice(t, wantH, hState, delta)
	assertInDeltaSlice(t, wantC, cState, delta)
}

func TestLSTMCellBackwardFiniteDifference(t *testing.T) {
	const (
		B, C, H = 2, 3, 2
		step    = 1e-3
	)
	rng := rand.New(rand.NewSource(2))
	x := randomSlice(rng, B*C)
	hPrev := randomSlice(rng, B*H)
	cPrev := randomSlice(rng, B*H)
	wx := randomSlice(rng, 4*H*C)
	wh := randomSlice(rng, 4*H*H)
	bias := randomSlice(rng, 4*H)
	dh := onesSlice(B * H)
	dcNext := halfSlice(B * H)

	// loss = sum(h) + 0.5*sum(c), matching dh and dcNext above
	loss := func() float32 {
		h := make([]float32, B*H)
		cell := make([]float32, B*H)
		gates := make([]float32, B*4*H)
		lstmCellForward(h, cell, gates, x, hPrev, cPrev, wx, wh, bias, B, C, H)
		var l float32
		for k := range h {
			l += h[k] + 0.5*cell[k]
		}
		return l
	}

	h := make([]float32, B*H)
	cell := make([]float32, B*H)
	gates := make([]float32, B*4*H)
	lstmCellForward(h, cell, gates, x, hPrev, cPrev, wx, wh, bias, B, C, H)

	dx := make([]float32, B*C)
	dhPrev := make([]float32, B*H)
	dcPrev := make([]float32, B*H)
	dwx := make([]float32, len(wx))
	dwh := make([]float32, len(wh))
	dbias := make([]float32, len(bias))
	lstmCellBackward(dx, dhPrev, dcPrev, dwx, dwh, dbias, dh, dcNext, gates, cell, x, hPrev, cPrev, wx, wh, B, C, H)

	checkGradient(t, x, dx, step, loss)
	checkGradient(t, hPrev, dhPrev, step, loss)
	checkGradient(t, cPrev, dcPrev, step, loss)
	checkGradient(t, wx, dwx, step, loss)
	checkGradient(t, wh, dwh, step, loss)
	checkGradient(t, bias, dbias, step, loss)
}

func TestDropoutForward(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	inp := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	mask := make([]float32, 4)

	// eval mode copies through with an all-ones mask
	dropoutForward(out, inp, mask, 0.5, rng, false, 4)
	assert.Equal(t, inp, out)
	assert.Equal(t, []float32{1, 1, 1, 1}, mask)

	// train mode zeroes or rescales, and the mask records which
	dropoutForward(out, inp, mask, 0.5, rng, true, 4)
	for i := range out {
		assert.InDelta(t, inp[i]*mask[i], out[i], delta)
		assert.True(t, mask[i] == 0 || mask[i] == 2)
	}
}

func TestDropoutBackward(t *testing.T) {
	dinp := []float32{1, 1}
	dropoutBackward(dinp, []float32{3, 5}, []float32{0, 2}, 2)
	assert.Equal(t, []float32{1, 11}, dinp)
}

func TestSoftplusForward(t *testing.T) {
	sigma := make([]float32, 3)
	softplusForward(sigma, []float32{-50, 0, 50}, 1e-3, 3)
	assert.InDelta(t, 1e-3, sigma[0], delta)
	assert.InDelta(t, Log(2)+1e-3, sigma[1], delta)
	assert.InDelta(t, 50+1e-3, sigma[2], 1e-3)
	for _, s := range sigma {
		assert.Positive(t, s)
	}
}

func TestSoftplusBackwardFiniteDifference(t *testing.T) {
	const step = 1e-3
	raw := []float32{-1, 0, 0.5, 3}
	dsigma := []float32{1, 2, -1, 0.5}
	loss := func() float32 {
		sigma := make([]float32, len(raw))
		softplusForward(sigma, raw, 0, len(raw))
		var l float32
		for i := range sigma {
			l += sigma[i] * dsigma[i]
		}
		return l
	}
	draw := make([]float32, len(raw))
	softplusBackward(draw, dsigma, raw, len(raw))
	checkGradient(t, raw, draw, step, loss)
}

func TestGaussianNLLForward(t *testing.T) {
	const (
		B             = 1
		T             = 2
		encoderLength = 1
	)
	mu := []float32{5, 1}       // (T, B)
	sigma := []float32{1, 2}    // (T, B)
	targets := []float32{9, 2}  // (B, T)
	losses := make([]float32, T*B)
	gaussianNLLForward(losses, mu, sigma, targets, B, T, encoderLength)

	// encoder steps carry no loss
	assert.Zero(t, losses[0])
	// 0.5*log(2pi) + log(2) + 0.5*((2-1)/2)^2
	want := 0.5*float32(log2Pi) + Log(2) + 0.125
	assert.InDelta(t, want, losses[1], delta)
}

func TestGaussianNLLBackwardFiniteDifference(t *testing.T) {
	const (
		B             = 2
		T             = 4
		encoderLength = 2
		step          = 1e-3
	)
	rng := rand.New(rand.NewSource(4))
	mu := randomSlice(rng, T*B)
	sigma := make([]float32, T*B)
	for i := range sigma {
		sigma[i] = 0.5 + rng.Float32() // keep scales away from zero
	}
	targets := randomSlice(rng, B*T)

	loss := func() float32 {
		losses := make([]float32, T*B)
		gaussianNLLForward(losses, mu, sigma, targets, B, T, encoderLength)
		var sum float32
		for _, l := range losses {
			sum += l
		}
		return sum / float32(B*(T-encoderLength))
	}

	dmu := make([]float32, T*B)
	dsigma := make([]float32, T*B)
	gaussianNLLBackward(dmu, dsigma, mu, sigma, targets, B, T, encoderLength)

	checkGradient(t, mu, dmu, step, loss)
	checkGradient(t, sigma, dsigma, step, loss)
}

func TestGlobalNorm(t *testing.T) {
	assert.InDelta(t, 5, globalNorm([]float32{3, 4}), delta)
	assert.Zero(t, globalNorm(nil))
}

// test helpers

func randomSlice(rng *rand.Rand, n int) []float32 {
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = 2*rng.Float32() - 1
	}
	return xs
}

func onesSlice(n int) []float32 {
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = 1
	}
	return xs
}

func halfSlice(n int) []float32 {
	xs := make([]float32, n)
	for i := range xs {
		xs[i] = 0.5
	}
	return xs
}

// checkGradient compares analytic gradients against central finite
// differences of loss with respect to every element of params.
func checkGradient(t *testing.T, params, grads []float32, step float32, loss func() float32) {
	t.Helper()
	require.Equal(t, len(params), len(grads))
	for i := range params {
		orig := params[i]
		params[i] = orig + step
		up := loss()
		params[i] = orig - step
		down := loss()
		params[i] = orig
		numeric := (up - down) / (2 * step)
		assert.InDelta(t, numeric, grads[i], 5e-3, "element %d", i)
	}
}

func assertInDeltaSlice(t *testing.T, want, got []float32, d float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.InDelta(t, want[i], got[i], d, "element %d", i)
	}
}

package deepargo

import (
	"math"
	"math/rand"
	"sync"
)

// inputForward assembles the per-step network inputs. feats is the loader's
// batch-major (B, T, F) feature slab, emb the (S, E) static embedding table
// and ids the per-sample static category. The output is time-major
// (T, B, F+E) so each step is a contiguous (B, F+E) block.
func inputForward(out, feats, emb []float32, ids []int32, B, T, F, E int) {
	fin := F + E
	for t := 0; t < T; t++ {
		for b := 0; b < B; b++ {
			outRow := out[(t*B+b)*fin:]
			featRow := feats[(b*T+t)*F:]
			for i := 0; i < F; i++ {
				outRow[i] = featRow[i]
			}
			embRow := emb[int(ids[b])*E:]
			for j := 0; j < E; j++ {
				outRow[F+j] = embRow[j]
			}
		}
	}
}

// inputBackward routes input gradients back into the embedding table. The
// numeric features are data, not parameters, so only the embedding columns
// accumulate.
func inputBackward(demb, dout []float32, ids []int32, B, T, F, E int) {
	fin := F + E
	for t := 0; t < T; t++ {
		for b := 0; b < B; b++ {
			doutRow := dout[(t*B+b)*fin:]
			dembRow := demb[int(ids[b])*E:]
			for j := 0; j < E; j++ {
				dembRow[j] += doutRow[F+j]
			}
		}
	}
}

// affineForward computes out = inp*weight^T + bias over B*T rows.
// inp is (B, T, C), weight is (OC, C), bias is (OC) or nil, out is (B, T, OC).
func affineForward(out, inp, weight, bias []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			for t := 0; t < T; t++ {
				outBT := out[b*T*OC+t*OC:]
				inpBT := inp[b*T*C+t*C:]
				for o := 0; o < OC; o++ {
					var val float32
					if bias != nil {
						val = bias[o]
					}
					wrow := weight[o*C:]
					for i := 0; i < C; i++ {
						val += inpBT[i] * wrow[i]
					}
					outBT[o] = val
				}
			}
		}(b)
	}
	wg.Wait()
}

// affineBackward accumulates gradients for affineForward. dbias may be nil
// when the forward pass ran without a bias.
func affineBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, T, C, OC int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			doutBT := dout[b*T*OC+t*OC:]
			dinpBT := dinp[b*T*C+t*C:]
			for o := 0; o < OC; o++ {
				wrow := weight[o*C:]
				d := doutBT[o]
				for i := 0; i < C; i++ {
					dinpBT[i] += wrow[i] * d
				}
			}
		}
	}
	for o := 0; o < OC; o++ {
		dwrow := dweight[o*C:]
		for b := 0; b < B; b++ {
			for t := 0; t < T; t++ {
				doutBT := dout[b*T*OC+t*OC:]
				inpBT := inp[b*T*C+t*C:]
				d := doutBT[o]
				if dbias != nil {
					dbias[o] += d
				}
				for i := 0; i < C; i++ {
					dwrow[i] += inpBT[i] * d
				}
			}
		}
	}
}

// lstmCellForward runs one LSTM step for a whole batch.
// x is the (B, C) layer input, hPrev/cPrev the (B, H) state from the previous
// step (zero slices at t=0). wx is (4*H, C), wh is (4*H, H), bias is (4*H).
// gates receives the post-activation i,f,g,o values as four H-blocks per
// sample, cell and h the new state.
func lstmCellForward(h, cell, gates, x, hPrev, cPrev, wx, wh, bias []float32, B, C, H int) {
	H4 := 4 * H
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			xB := x[b*C:]
			hPrevB := hPrev[b*H:]
			cPrevB := cPrev[b*H:]
			gatesB := gates[b*H4:]
			cellB := cell[b*H:]
			hB := h[b*H:]
			for j := 0; j < H4; j++ {
				a := bias[j]
				wxRow := wx[j*C:]
				for i := 0; i < C; i++ {
					a += wxRow[i] * xB[i]
				}
				whRow := wh[j*H:]
				for k := 0; k < H; k++ {
					a += whRow[k] * hPrevB[k]
				}
				if j < 2*H || j >= 3*H {
					gatesB[j] = Sigmoid(a) // input, forget and output gates
				} else {
					gatesB[j] = Tanh(a) // candidate cell
				}
			}
			for k := 0; k < H; k++ {
				i := gatesB[k]
				f := gatesB[H+k]
				g := gatesB[2*H+k]
				o := gatesB[3*H+k]
				c := f*cPrevB[k] + i*g
				cellB[k] = c
				hB[k] = o * Tanh(c)
			}
		}(b)
	}
	wg.Wait()
}

// lstmCellBackward backpropagates one LSTM step. dh is the total gradient
// flowing into h at this step, dcNext the cell gradient carried back from the
// following step. Gradients accumulate into dx, dhPrev, dcPrev and the weight
// slabs; the post-activation gate values are enough to rebuild every local
// derivative.
func lstmCellBackward(dx, dhPrev, dcPrev, dwx, dwh, dbias, dh, dcNext, gates, cell, x, hPrev, cPrev, wx, wh []float32, B, C, H int) {
	H4 := 4 * H
	da := make([]float32, H4)
	for b := 0; b < B; b++ {
		xB := x[b*C:]
		hPrevB := hPrev[b*H:]
		cPrevB := cPrev[b*H:]
		gatesB := gates[b*H4:]
		cellB := cell[b*H:]
		dhB := dh[b*H:]
		dcNextB := dcNext[b*H:]
		dxB := dx[b*C:]
		dhPrevB := dhPrev[b*H:]
		dcPrevB := dcPrev[b*H:]
		for k := 0; k < H; k++ {
			i := gatesB[k]
			f := gatesB[H+k]
			g := gatesB[2*H+k]
			o := gatesB[3*H+k]
			tc := Tanh(cellB[k])
			dc := dhB[k]*o*(1-tc*tc) + dcNextB[k]
			do := dhB[k] * tc
			da[3*H+k] = do * o * (1 - o)
			da[k] = dc * g * i * (1 - i)
			da[H+k] = dc * cPrevB[k] * f * (1 - f)
			da[2*H+k] = dc * i * (1 - g*g)
			dcPrevB[k] += dc * f
		}
		for j := 0; j < H4; j++ {
			d := da[j]
			if d == 0 {
				continue
			}
			dbias[j] += d
			wxRow := wx[j*C:]
			dwxRow := dwx[j*C:]
			for i := 0; i < C; i++ {
				dwxRow[i] += d * xB[i]
				dxB[i] += wxRow[i] * d
			}
			whRow := wh[j*H:]
			dwhRow := dwh[j*H:]
			for k := 0; k < H; k++ {
				dwhRow[k] += d * hPrevB[k]
				dhPrevB[k] += whRow[k] * d
			}
		}
	}
}

// dropoutForward applies inverted dropout, recording the mask so the backward
// pass replays the same pattern. With train=false or p=0 it degenerates to a
// copy with an all-ones mask.
func dropoutForward(out, inp, mask []float32, p float32, rng *rand.Rand, train bool, n int) {
	if !train || p <= 0 {
		for i := 0; i < n; i++ {
			out[i] = inp[i]
			mask[i] = 1
		}
		return
	}
	keep := 1 / (1 - p)
	for i := 0; i < n; i++ {
		if rng.Float32() < p {
			mask[i] = 0
			out[i] = 0
		} else {
			mask[i] = keep
			out[i] = inp[i] * keep
		}
	}
}

func dropoutBackward(dinp, dout, mask []float32, n int) {
	for i := 0; i < n; i++ {
		dinp[i] += dout[i] * mask[i]
	}
}

// softplusForward turns the raw scale head output into a strictly positive
// standard deviation.
func softplusForward(sigma, raw []float32, eps float32, n int) {
	for i := 0; i < n; i++ {
		sigma[i] = Softplus(raw[i]) + eps
	}
}

func softplusBackward(draw, dsigma, raw []float32, n int) {
	for i := 0; i < n; i++ {
		draw[i] += dsigma[i] * Sigmoid(raw[i])
	}
}

const log2Pi = 1.8378770664093453

// gaussianNLLForward fills the per-step negative log-likelihood for the
// decoder region. mu, sigma and losses are time-major (T, B); targets come
// from the loader batch-major as (B, T). Encoder steps carry zero loss.
func gaussianNLLForward(losses, mu, sigma, targets []float32, B, T, encoderLength int) {
	for t := 0; t < T; t++ {
		for b := 0; b < B; b++ {
			if t < encoderLength {
				losses[t*B+b] = 0
				continue
			}
			m := mu[t*B+b]
			s := sigma[t*B+b]
			z := targets[b*T+t]
			d := (z - m) / s
			losses[t*B+b] = 0.5*float32(log2Pi) + Log(s) + 0.5*d*d
		}
	}
}

// gaussianNLLBackward seeds the backward pass with d(meanLoss)/dmu and
// d(meanLoss)/dsigma. The mean is taken over B*(T-encoderLength) decoder
// steps.
func gaussianNLLBackward(dmu, dsigma, mu, sigma, targets []float32, B, T, encoderLength int) {
	scale := 1 / float32(B*(T-encoderLength))
	for t := encoderLength; t < T; t++ {
		for b := 0; b < B; b++ {
			m := mu[t*B+b]
			s := sigma[t*B+b]
			z := targets[b*T+t]
			diff := m - z
			dmu[t*B+b] += scale * diff / (s * s)
			dsigma[t*B+b] += scale * (1/s - diff*diff/(s*s*s))
		}
	}
}

// globalNorm returns the L2 norm of a gradient slab, accumulating in float64
// to keep long sums stable.
func globalNorm(grads []float32) float32 {
	var sum float64
	for _, g := range grads {
		sum += float64(g) * float64(g)
	}
	return float32(math.Sqrt(sum))
}

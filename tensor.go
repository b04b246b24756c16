package deepargo

type tensor struct {
	data []float32
	dims []int
}

func (t tensor) Data() []float32 {
	return t.data
}

func newTensor(data []float32, dims ...int) (tensor, int) {
	s := 1
	for _, d := range dims {
		s *= d
	}
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return tensor{
		data: data[:s],
		dims: dims,
	}, s
}

func (t tensor) size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

// ParameterTensors holds every learnable weight of a DeepAR network in one
// contiguous slab so the optimizer can walk Memory directly.
type ParameterTensors struct {
	Memory      []float32
	StaticEmbed tensor // (S, E) - static category embedding table
	InputW      tensor // (4*H, F+E) - LSTM input weights for the bottom layer
	DeepW       tensor // (L-1, 4*H, H) - LSTM input weights for stacked layers
	RecurW      tensor // (L, 4*H, H) - LSTM recurrent weights
	GateB       tensor // (L, 4*H) - LSTM gate biases, ordered i,f,g,o
	MuW         tensor // (H) - mean head weights
	MuB         tensor // (1) - mean head bias
	SigmaW      tensor // (H) - scale head weights
	SigmaB      tensor // (1) - scale head bias
}

// Init allocates the parameter slab for S static categories with E embedding
// dimensions, F numeric input features, hidden size H and L stacked layers.
func (p *ParameterTensors) Init(S, E, F, H, L int) {
	fin := F + E
	p.Memory = make([]float32,
		S*E+ // StaticEmbed
			4*H*fin+ // InputW
			(L-1)*4*H*H+ // DeepW
			L*4*H*H+ // RecurW
			L*4*H+ // GateB
			H+ // MuW
			1+ // MuB
			H+ // SigmaW
			1, // SigmaB
	)
	var ptr int
	memPtr := p.Memory
	p.StaticEmbed, ptr = newTensor(memPtr, S, E)
	memPtr = memPtr[ptr:]
	p.InputW, ptr = newTensor(memPtr, 4*H, fin)
	memPtr = memPtr[ptr:]
	p.DeepW, ptr = newTensor(memPtr, L-1, 4*H, H)
	memPtr = memPtr[ptr:]
	p.RecurW, ptr = newTensor(memPtr, L, 4*H, H)
	memPtr = memPtr[ptr:]
	p.GateB, ptr = newTensor(memPtr, L, 4*H)
	memPtr = memPtr[ptr:]
	p.MuW, ptr = newTensor(memPtr, H)
	memPtr = memPtr[ptr:]
	p.MuB, ptr = newTensor(memPtr, 1)
	memPtr = memPtr[ptr:]
	p.SigmaW, ptr = newTensor(memPtr, H)
	memPtr = memPtr[ptr:]
	p.SigmaB, ptr = newTensor(memPtr, 1)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("parameter slab accounting is off")
	}
}

func (p *ParameterTensors) Len() int {
	return len(p.Memory)
}

// ActivationTensors holds the forward-pass state of one batch. Time-major
// layout (T before B) keeps each per-step (B, ...) block contiguous, which is
// what the step kernels operate on.
type ActivationTensors struct {
	Memory    []float32
	Inputs    tensor // (T, B, F+E) - assembled step inputs
	Gates     tensor // (L, T, B, 4*H) - post-activation gate values i,f,g,o
	Cells     tensor // (L, T, B, H) - cell states
	Hiddens   tensor // (L, T, B, H) - hidden states
	Dropped   tensor // (L, T, B, H) - hidden states after inter-layer dropout
	DropMasks tensor // (L, T, B, H) - inverted dropout masks
	Mu        tensor // (T, B) - predicted means
	SigmaRaw  tensor // (T, B) - scale head pre-activation
	Sigma     tensor // (T, B) - predicted standard deviations
	Losses    tensor // (T, B) - per-step negative log-likelihood
}

// Init allocates activation storage for batch size B, window length T,
// assembled input width Fin, hidden size H and L layers.
func (a *ActivationTensors) Init(B, T, Fin, H, L int) {
	a.Memory = make([]float32,
		T*B*Fin+
			L*T*B*4*H+
			L*T*B*H+
			L*T*B*H+
			L*T*B*H+
			L*T*B*H+
			T*B+
			T*B+
			T*B+
			T*B)
	var ptr int
	memPtr := a.Memory
	a.Inputs, ptr = newTensor(memPtr, T, B, Fin)
	memPtr = memPtr[ptr:]
	a.Gates, ptr = newTensor(memPtr, L, T, B, 4*H)
	memPtr = memPtr[ptr:]
	a.Cells, ptr = newTensor(memPtr, L, T, B, H)
	memPtr = memPtr[ptr:]
	a.Hiddens, ptr = newTensor(memPtr, L, T, B, H)
	memPtr = memPtr[ptr:]
	a.Dropped, ptr = newTensor(memPtr, L, T, B, H)
	memPtr = memPtr[ptr:]
	a.DropMasks, ptr = newTensor(memPtr, L, T, B, H)
	memPtr = memPtr[ptr:]
	a.Mu, ptr = newTensor(memPtr, T, B)
	memPtr = memPtr[ptr:]
	a.SigmaRaw, ptr = newTensor(memPtr, T, B)
	memPtr = memPtr[ptr:]
	a.Sigma, ptr = newTensor(memPtr, T, B)
	memPtr = memPtr[ptr:]
	a.Losses, ptr = newTensor(memPtr, T, B)
	memPtr = memPtr[ptr:]
	if len(memPtr) != 0 {
		panic("activation slab accounting is off")
	}
}

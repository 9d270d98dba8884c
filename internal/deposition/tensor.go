package deposition

// Tensor4 is a dense row-major 4-D array.
type Tensor4 struct {
	Shape [4]int
	Data  []float64
}

// NewTensor4 allocates a zero tensor.
func NewTensor4(n0, n1, n2, n3 int) Tensor4 {
	return Tensor4{Shape: [4]int{n0, n1, n2, n3}, Data: make([]float64, n0*n1*n2*n3)}
}

func (t Tensor4) index(i, j, k, l int) int {
	return ((i*t.Shape[1]+j)*t.Shape[2]+k)*t.Shape[3] + l
}

func (t Tensor4) At(i, j, k, l int) float64 { return t.Data[t.index(i, j, k, l)] }

func (t Tensor4) Set(i, j, k, l int, v float64) { t.Data[t.index(i, j, k, l)] = v }

// Tensor3 is a dense row-major 3-D array.
type Tensor3 struct {
	Shape [3]int
	Data  []float64
}

// NewTensor3 allocates a zero tensor.
func NewTensor3(n0, n1, n2 int) Tensor3 {
	return Tensor3{Shape: [3]int{n0, n1, n2}, Data: make([]float64, n0*n1*n2)}
}

func (t Tensor3) index(i, j, k int) int {
	return (i*t.Shape[1]+j)*t.Shape[2] + k
}

func (t Tensor3) At(i, j, k int) float64 { return t.Data[t.index(i, j, k)] }

func (t Tensor3) Set(i, j, k int, v float64) { t.Data[t.index(i, j, k)] = v }

// Column returns the values along the middle axis for fixed i and k.
func (t Tensor3) Column(i, k int) []float64 {
	out := make([]float64, t.Shape[1])
	for j := range out {
		out[j] = t.At(i, j, k)
	}
	return out
}

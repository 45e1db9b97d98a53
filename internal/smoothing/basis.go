package smoothing

// legendre evaluates the first k shifted Legendre polynomials at x in
// [0, 1] into dst.
func legendre(dst []float64, x float64) {
	if len(dst) == 0 {
		return
	}
	u := 2*x - 1
	dst[0] = 1
	if len(dst) > 1 {
		dst[1] = u
	}
	for n := 1; n+1 < len(dst); n++ {
		fn := float64(n)
		dst[n+1] = ((2*fn+1)*u*dst[n] - fn*dst[n-1]) / (fn + 1)
	}
}

// basisRows evaluates k basis functions at each point of xs.
func basisRows(xs []float64, k int) [][]float64 {
	rows := make([][]float64, len(xs))
	for i, x := range xs {
		rows[i] = make([]float64, k)
		legendre(rows[i], x)
	}
	return rows
}

// evalBasis returns rows·c.
func evalBasis(rows [][]float64, c []float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		var v float64
		for b, w := range row {
			v += w * c[b]
		}
		out[i] = v
	}
	return out
}

// secondDifferenceGram returns scale·(D²B)ᵀ(D²B) for basis rows B sampled
// on a uniform grid.
func secondDifferenceGram(rows [][]float64, scale float64) [][]float64 {
	k := 0
	if len(rows) > 0 {
		k = len(rows[0])
	}
	g := newSquare(k)
	d := make([]float64, k)
	for i := 1; i+1 < len(rows); i++ {
		for b := 0; b < k; b++ {
			d[b] = rows[i+1][b] - 2*rows[i][b] + rows[i-1][b]
		}
		addOuter(g, d, scale)
	}
	return g
}

// gram returns scale·BᵀB.
func gram(rows [][]float64, scale float64) [][]float64 {
	k := 0
	if len(rows) > 0 {
		k = len(rows[0])
	}
	g := newSquare(k)
	for _, row := range rows {
		addOuter(g, row, scale)
	}
	return g
}

func newSquare(k int) [][]float64 {
	g := make([][]float64, k)
	for i := range g {
		g[i] = make([]float64, k)
	}
	return g
}

func addOuter(g [][]float64, v []float64, scale float64) {
	for a := range v {
		for b := range v {
			g[a][b] += scale * v[a] * v[b]
		}
	}
}

func addSquare(dst, src [][]float64) {
	for i := range src {
		for j := range src[i] {
			dst[i][j] += src[i][j]
		}
	}
}

// quadForm returns cᵀGc.
func quadForm(g [][]float64, c []float64) float64 {
	var sum float64
	for i := range g {
		for j := range g[i] {
			sum += c[i] * g[i][j] * c[j]
		}
	}
	return sum
}

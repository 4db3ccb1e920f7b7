package cpu

// spMat is a sparse square matrix in row-list form. The action engine keeps
// values in float64 regardless of the instance precision; the norm and
// power estimates that drive the Taylor degree selection need the full
// double range.
type spMat struct {
	n    int
	rows [][]spEntry
}

type spEntry struct {
	j int32
	v float64
}

// newSpMat builds a sparse matrix from triplet lists.
func newSpMat(n int, ri, ci []int, vals []float64) *spMat {
	m := &spMat{n: n, rows: make([][]spEntry, n)}
	for t := range vals {
		i := ri[t]
		m.rows[i] = append(m.rows[i], spEntry{j: int32(ci[t]), v: vals[t]})
	}
	return m
}

// scaled returns a copy with every value multiplied by s.
func (m *spMat) scaled(s float64) *spMat {
	out := &spMat{n: m.n, rows: make([][]spEntry, m.n)}
	for i, row := range m.rows {
		cp := make([]spEntry, len(row))
		for x, e := range row {
			cp[x] = spEntry{j: e.j, v: e.v * s}
		}
		out.rows[i] = cp
	}
	return out
}

// shiftedDiag returns a copy with mu subtracted from the diagonal.
func (m *spMat) shiftedDiag(mu float64) *spMat {
	out := &spMat{n: m.n, rows: make([][]spEntry, m.n)}
	for i, row := range m.rows {
		cp := make([]spEntry, 0, len(row)+1)
		seen := false
		for _, e := range row {
			if int(e.j) == i {
				cp = append(cp, spEntry{j: e.j, v: e.v - mu})
				seen = true
			} else {
				cp = append(cp, e)
			}
		}
		if !seen {
			cp = append(cp, spEntry{j: int32(i), v: -mu})
		}
		out.rows[i] = cp
	}
	return out
}

// trace sums the diagonal.
func (m *spMat) trace() float64 {
	var tr float64
	for i, row := range m.rows {
		for _, e := range row {
			if int(e.j) == i {
				tr += e.v
			}
		}
	}
	return tr
}

// norm1 is the maximum absolute column sum.
func (m *spMat) norm1() float64 {
	col := make([]float64, m.n)
	for _, row := range m.rows {
		for _, e := range row {
			if e.v >= 0 {
				col[e.j] += e.v
			} else {
				col[e.j] -= e.v
			}
		}
	}
	var mx float64
	for _, v := range col {
		if v > mx {
			mx = v
		}
	}
	return mx
}

// mul computes m·other (both n×n).
func (m *spMat) mul(other *spMat) *spMat {
	out := &spMat{n: m.n, rows: make([][]spEntry, m.n)}
	acc := make([]float64, m.n)
	used := make([]bool, m.n)
	for i, row := range m.rows {
		var touched []int32
		for _, e := range row {
			for _, oe := range other.rows[e.j] {
				if !used[oe.j] {
					used[oe.j] = true
					touched = append(touched, oe.j)
				}
				acc[oe.j] += e.v * oe.v
			}
		}
		entries := make([]spEntry, 0, len(touched))
		for _, j := range touched {
			if acc[j] != 0 {
				entries = append(entries, spEntry{j: j, v: acc[j]})
			}
			acc[j] = 0
			used[j] = false
		}
		out.rows[i] = entries
	}
	return out
}

// applyTo computes dst[k,:] = m·src[k,:] for every pattern row of a
// [patterns × n] block.
func (m *spMat) applyTo(dst, src []float64, patterns int) {
	n := m.n
	for k := 0; k < patterns; k++ {
		off := k * n
		v := src[off : off+n]
		d := dst[off : off+n]
		for i := 0; i < n; i++ {
			var sum float64
			for _, e := range m.rows[i] {
				sum += e.v * v[e.j]
			}
			d[i] = sum
		}
	}
}

package surrogate

import "gonum.org/v1/gonum/mat"

// matrixPool keeps free lists of matrices to reduce allocations during
// repeated fits. Matrices returned from the pool may be any size, so
// callers must not assume dimensions; mismatched sizes are discarded.
type matrixPool struct {
	syms   []*mat.SymDense
	denses []*mat.Dense
}

func newMatrixPool() *matrixPool {
	return &matrixPool{
		syms:   make([]*mat.SymDense, 0, 8),
		denses: make([]*mat.Dense, 0, 8),
	}
}

func (p *matrixPool) getSym(n int) *mat.SymDense {
	for i := len(p.syms) - 1; i >= 0; i-- {
		m := p.syms[i]
		if d := m.SymmetricDim(); d == n {
			p.syms = append(p.syms[:i], p.syms[i+1:]...)
			return m
		}
	}
	return mat.NewSymDense(n, nil)
}

func (p *matrixPool) putSym(m *mat.SymDense) {
	p.syms = append(p.syms, m)
}

func (p *matrixPool) getDense(r, c int) *mat.Dense {
	for i := len(p.denses) - 1; i >= 0; i-- {
		m := p.denses[i]
		if mr, mc := m.Dims(); mr == r && mc == c {
			p.denses = append(p.denses[:i], p.denses[i+1:]...)
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

func (p *matrixPool) putDense(m *mat.Dense) {
	p.denses = append(p.denses, m)
}

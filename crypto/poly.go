package crypto

import (
	"bytes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"

	"github.com/keyshard/keyshard/wire"
)

// This file implements the secret sharing math: univariate polynomials over
// the scalar field with their group commitments, and the symmetric bivariate
// polynomials that the dealerless key generation is built on. A commitment to
// a polynomial f is the vector of points f_i * G, so that anyone can check
// claimed evaluations of f against public data without learning f.

// Poly is a univariate polynomial over the scalar field of a group. The
// coefficient of x^i is coeffs[i].
type Poly struct {
	g      kyber.Group
	coeffs []kyber.Scalar
}

// ZeroPoly returns the zero polynomial of degree 0.
func ZeroPoly(g kyber.Group) *Poly {
	return &Poly{g: g, coeffs: []kyber.Scalar{g.Scalar().Zero()}}
}

// Degree returns the degree of the polynomial.
func (p *Poly) Degree() int {
	return len(p.coeffs) - 1
}

// Evaluate returns the value of the polynomial at x.
func (p *Poly) Evaluate(x uint64) kyber.Scalar {
	return p.evaluateScalar(p.g.Scalar().SetInt64(int64(x)))
}

func (p *Poly) evaluateScalar(x kyber.Scalar) kyber.Scalar {
	res := p.g.Scalar().Zero()
	for i := len(p.coeffs) - 1; i >= 0; i-- {
		res = p.g.Scalar().Add(p.g.Scalar().Mul(res, x), p.coeffs[i])
	}
	return res
}

// Commitment commits to the polynomial coefficient-wise against the group's
// standard base point.
func (p *Poly) Commitment() *Commitment {
	commits := make([]kyber.Point, len(p.coeffs))
	for i, c := range p.coeffs {
		commits[i] = p.g.Point().Mul(c, nil)
	}
	return &Commitment{g: p.g, coeffs: commits}
}

// Zeroize overwrites every coefficient with zero. Call it as soon as the
// polynomial is no longer needed.
func (p *Poly) Zeroize() {
	for _, c := range p.coeffs {
		c.Zero()
	}
}

// MarshalBinary encodes the polynomial as a count-prefixed sequence of
// fixed-width scalars.
func (p *Poly) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteUint64(&buf, uint64(len(p.coeffs))); err != nil {
		return nil, err
	}
	for _, c := range p.coeffs {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// UnmarshalPoly decodes a polynomial produced by MarshalBinary. It rejects
// trailing bytes.
func UnmarshalPoly(g kyber.Group, data []byte) (*Poly, error) {
	r := bytes.NewReader(data)
	n, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if n == 0 || n > wire.MaxSliceLen {
		return nil, errors.New("crypto: invalid polynomial length")
	}
	coeffs := make([]kyber.Scalar, n)
	buf := make([]byte, g.ScalarLen())
	for i := range coeffs {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		s := g.Scalar()
		if err := s.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("crypto: coefficient %d: %w", i, err)
		}
		coeffs[i] = s
	}
	if err := wire.ExpectEOF(r); err != nil {
		return nil, err
	}
	return &Poly{g: g, coeffs: coeffs}, nil
}

// MarshalValue encodes a single scalar as its fixed-width canonical bytes.
func MarshalValue(v kyber.Scalar) ([]byte, error) {
	return v.MarshalBinary()
}

// UnmarshalValue decodes a single fixed-width scalar.
func UnmarshalValue(g kyber.Group, data []byte) (kyber.Scalar, error) {
	if len(data) != g.ScalarLen() {
		return nil, errors.New("crypto: invalid scalar length")
	}
	s := g.Scalar()
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return s, nil
}

// Sample is one observed evaluation (X, Y) of an unknown polynomial.
type Sample struct {
	X uint64
	Y kyber.Scalar
}

// Interpolate returns the unique polynomial of degree len(samples)-1 passing
// through all the samples. The X values must be distinct and non-zero.
func Interpolate(g kyber.Group, samples []*Sample) (*Poly, error) {
	if len(samples) == 0 {
		return nil, errors.New("crypto: interpolation needs at least one sample")
	}
	seen := make(map[uint64]bool, len(samples))
	for _, s := range samples {
		if s.X == 0 {
			return nil, errors.New("crypto: interpolation point at zero")
		}
		if seen[s.X] {
			return nil, fmt.Errorf("crypto: duplicate interpolation point %d", s.X)
		}
		seen[s.X] = true
	}

	result := make([]kyber.Scalar, len(samples))
	for i := range result {
		result[i] = g.Scalar().Zero()
	}
	for k, sk := range samples {
		// Basis polynomial prod_{m != k} (x - x_m), built one linear factor
		// at a time, then scaled by y_k / prod_{m != k} (x_k - x_m).
		basis := []kyber.Scalar{g.Scalar().One()}
		denom := g.Scalar().One()
		xk := g.Scalar().SetInt64(int64(sk.X))
		for m, sm := range samples {
			if m == k {
				continue
			}
			xm := g.Scalar().SetInt64(int64(sm.X))
			basis = mulLinear(g, basis, g.Scalar().Neg(xm))
			denom = g.Scalar().Mul(denom, g.Scalar().Sub(xk, xm))
		}
		scale := g.Scalar().Mul(sk.Y, g.Scalar().Inv(denom))
		for i := range basis {
			result[i] = g.Scalar().Add(result[i], g.Scalar().Mul(basis[i], scale))
		}
	}
	return &Poly{g: g, coeffs: result}, nil
}

// mulLinear multiplies the polynomial by (x + c).
func mulLinear(g kyber.Group, coeffs []kyber.Scalar, c kyber.Scalar) []kyber.Scalar {
	out := make([]kyber.Scalar, len(coeffs)+1)
	for i := range out {
		out[i] = g.Scalar().Zero()
	}
	for i, a := range coeffs {
		out[i+1] = g.Scalar().Add(out[i+1], a)
		out[i] = g.Scalar().Add(out[i], g.Scalar().Mul(a, c))
	}
	return out
}

// Commitment is a coefficient-wise group commitment to a univariate
// polynomial.
type Commitment struct {
	g      kyber.Group
	coeffs []kyber.Point
}

// Degree returns the degree of the committed polynomial.
func (c *Commitment) Degree() int {
	return len(c.coeffs) - 1
}

// Evaluate returns the commitment to the polynomial's value at x, that is
// f(x) * G.
func (c *Commitment) Evaluate(x uint64) kyber.Point {
	xs := c.g.Scalar().SetInt64(int64(x))
	res := c.g.Point().Null()
	for i := len(c.coeffs) - 1; i >= 0; i-- {
		res = c.g.Point().Add(c.g.Point().Mul(xs, res), c.coeffs[i])
	}
	return res
}

// Add adds another commitment component-wise into this one, padding with the
// identity if the degrees differ.
func (c *Commitment) Add(other *Commitment) {
	for len(c.coeffs) < len(other.coeffs) {
		c.coeffs = append(c.coeffs, c.g.Point().Null())
	}
	for i, p := range other.coeffs {
		c.coeffs[i] = c.g.Point().Add(c.coeffs[i], p)
	}
}

// Equal reports whether both commitments commit to the same polynomial.
func (c *Commitment) Equal(other *Commitment) bool {
	if len(c.coeffs) != len(other.coeffs) {
		return false
	}
	for i := range c.coeffs {
		if !c.coeffs[i].Equal(other.coeffs[i]) {
			return false
		}
	}
	return true
}

// Points returns the coefficient commitments, lowest degree first.
func (c *Commitment) Points() []kyber.Point {
	out := make([]kyber.Point, len(c.coeffs))
	copy(out, c.coeffs)
	return out
}

// MarshalBinary encodes the commitment as a count-prefixed sequence of
// fixed-width points.
func (c *Commitment) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteUint64(&buf, uint64(len(c.coeffs))); err != nil {
		return nil, err
	}
	for _, p := range c.coeffs {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// UnmarshalCommitment decodes a commitment produced by MarshalBinary.
func UnmarshalCommitment(g kyber.Group, data []byte) (*Commitment, error) {
	r := bytes.NewReader(data)
	n, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if n == 0 || n > wire.MaxSliceLen {
		return nil, errors.New("crypto: invalid commitment length")
	}
	coeffs, err := readPoints(g, r, int(n))
	if err != nil {
		return nil, err
	}
	if err := wire.ExpectEOF(r); err != nil {
		return nil, err
	}
	return &Commitment{g: g, coeffs: coeffs}, nil
}

// BivarPoly is a symmetric bivariate polynomial of equal degree in both
// variables, f(x, y) = f(y, x). Only the upper triangle of the coefficient
// matrix is stored. Its constant term f(0, 0) is the secret the owner
// contributes to the shared key.
type BivarPoly struct {
	g      kyber.Group
	degree int
	// coeffs[pos(i, j)] is the coefficient of x^i y^j (and of x^j y^i).
	coeffs []kyber.Scalar
}

// triangleLen is the number of stored coefficients for a given degree.
func triangleLen(degree int) int {
	return (degree + 1) * (degree + 2) / 2
}

// trianglePos maps a matrix position to its packed index, folding the lower
// triangle onto the upper one.
func trianglePos(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return j*(j+1)/2 + i
}

// RandomBivarPoly samples a uniformly random symmetric bivariate polynomial
// of the given degree from the stream.
func RandomBivarPoly(g kyber.Group, degree int, stream cipher.Stream) *BivarPoly {
	coeffs := make([]kyber.Scalar, triangleLen(degree))
	for i := range coeffs {
		coeffs[i] = g.Scalar().Pick(stream)
	}
	return &BivarPoly{g: g, degree: degree, coeffs: coeffs}
}

// Degree returns the degree of the polynomial in each variable.
func (b *BivarPoly) Degree() int {
	return b.degree
}

func (b *BivarPoly) coeff(i, j int) kyber.Scalar {
	return b.coeffs[trianglePos(i, j)]
}

// Row returns the univariate polynomial f(x, ·).
func (b *BivarPoly) Row(x uint64) *Poly {
	coeffs := make([]kyber.Scalar, b.degree+1)
	for j := range coeffs {
		coeffs[j] = b.g.Scalar().Zero()
	}
	xs := b.g.Scalar().SetInt64(int64(x))
	xi := b.g.Scalar().One()
	for i := 0; i <= b.degree; i++ {
		for j := 0; j <= b.degree; j++ {
			coeffs[j] = b.g.Scalar().Add(coeffs[j], b.g.Scalar().Mul(b.coeff(i, j), xi))
		}
		xi = b.g.Scalar().Mul(xi, xs)
	}
	return &Poly{g: b.g, coeffs: coeffs}
}

// Evaluate returns f(x, y).
func (b *BivarPoly) Evaluate(x, y uint64) kyber.Scalar {
	row := b.Row(x)
	defer row.Zeroize()
	return row.Evaluate(y)
}

// Commitment commits to every coefficient against the group's standard base
// point.
func (b *BivarPoly) Commitment() *BivarCommitment {
	commits := make([]kyber.Point, len(b.coeffs))
	for i, c := range b.coeffs {
		commits[i] = b.g.Point().Mul(c, nil)
	}
	return &BivarCommitment{g: b.g, degree: b.degree, coeffs: commits}
}

// Zeroize overwrites every coefficient with zero.
func (b *BivarPoly) Zeroize() {
	for _, c := range b.coeffs {
		c.Zero()
	}
}

// BivarCommitment is the public commitment to a symmetric bivariate
// polynomial: C(x, y) evaluates to f(x, y) * G.
type BivarCommitment struct {
	g      kyber.Group
	degree int
	coeffs []kyber.Point
}

// Degree returns the degree of the committed polynomial in each variable.
func (c *BivarCommitment) Degree() int {
	return c.degree
}

func (c *BivarCommitment) coeff(i, j int) kyber.Point {
	return c.coeffs[trianglePos(i, j)]
}

// Row returns the commitment to the univariate polynomial f(x, ·).
func (c *BivarCommitment) Row(x uint64) *Commitment {
	coeffs := make([]kyber.Point, c.degree+1)
	for j := range coeffs {
		coeffs[j] = c.g.Point().Null()
	}
	xs := c.g.Scalar().SetInt64(int64(x))
	xi := c.g.Scalar().One()
	for i := 0; i <= c.degree; i++ {
		for j := 0; j <= c.degree; j++ {
			coeffs[j] = c.g.Point().Add(coeffs[j], c.g.Point().Mul(xi, c.coeff(i, j)))
		}
		xi = c.g.Scalar().Mul(xi, xs)
	}
	return &Commitment{g: c.g, coeffs: coeffs}
}

// Evaluate returns the commitment to f(x, y), that is f(x, y) * G.
func (c *BivarCommitment) Evaluate(x, y uint64) kyber.Point {
	return c.Row(x).Evaluate(y)
}

// Equal reports whether both commitments commit to the same polynomial.
func (c *BivarCommitment) Equal(other *BivarCommitment) bool {
	if c.degree != other.degree {
		return false
	}
	for i := range c.coeffs {
		if !c.coeffs[i].Equal(other.coeffs[i]) {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the commitment as its degree followed by the packed
// upper-triangle coefficient points.
func (c *BivarCommitment) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteUint64(&buf, uint64(c.degree)); err != nil {
		return nil, err
	}
	for _, p := range c.coeffs {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// maxCommitmentDegree bounds the degree accepted from the network; a degree
// beyond it could not belong to any realistic roster.
const maxCommitmentDegree = 1 << 10

// UnmarshalBivarCommitment decodes a commitment produced by MarshalBinary.
func UnmarshalBivarCommitment(g kyber.Group, r io.Reader) (*BivarCommitment, error) {
	degree, err := wire.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if degree > maxCommitmentDegree {
		return nil, errors.New("crypto: commitment degree out of range")
	}
	coeffs, err := readPoints(g, r, triangleLen(int(degree)))
	if err != nil {
		return nil, err
	}
	return &BivarCommitment{g: g, degree: int(degree), coeffs: coeffs}, nil
}

func readPoints(g kyber.Group, r io.Reader, n int) ([]kyber.Point, error) {
	coeffs := make([]kyber.Point, n)
	buf := make([]byte, g.PointLen())
	for i := range coeffs {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		p := g.Point()
		if err := p.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("crypto: point %d: %w", i, err)
		}
		coeffs[i] = p
	}
	return coeffs, nil
}

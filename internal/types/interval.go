package types

import (
	"math"
	"strconv"
	"strings"
)

// ====== Intervals ======

// Interval is a (possibly half-open or unbounded) range of numeric values.
// Infinite bounds are always treated as open.
type Interval struct {
	Lo, Hi         float64
	LoOpen, HiOpen bool
}

// Full returns the unbounded interval.
func Full() Interval {
	return Interval{Lo: math.Inf(-1), Hi: math.Inf(1), LoOpen: true, HiOpen: true}
}

// Point returns the interval holding exactly v.
func Point(v float64) Interval { return Interval{Lo: v, Hi: v} }

// Closed returns [lo, hi].
func Closed(lo, hi float64) Interval { return Interval{Lo: lo, Hi: hi} }

// MaxExactInt bounds the integers a float64 holds exactly.
const MaxExactInt = 1 << 53

// IntValue returns the interval of the integer v: a point when float64 holds v
// exactly, otherwise the neighbouring float64 values on either side of it.
func IntValue(v int64) Interval {
	f := float64(v)
	if math.Abs(f) <= MaxExactInt {
		return Point(f)
	}
	return Interval{Lo: math.Nextafter(f, math.Inf(-1)), Hi: math.Nextafter(f, math.Inf(1))}
}

// Rounded reports whether a finite bound of i lies beyond MaxExactInt, where
// the integer it stands for may not be what the bound says.
func (i Interval) Rounded() bool {
	return (i.Hi > MaxExactInt && !math.IsInf(i.Hi, 1)) || (i.Lo < -MaxExactInt && !math.IsInf(i.Lo, -1))
}

// Empty returns an interval holding no value.
func Empty() Interval { return Interval{Lo: 1, Hi: 0} }

// IsEmpty reports whether no value lies in i.
func (i Interval) IsEmpty() bool {
	return i.Lo > i.Hi || (i.Lo == i.Hi && (i.LoOpen || i.HiOpen)) || math.IsNaN(i.Lo) || math.IsNaN(i.Hi)
}

// IsFull reports whether i is unbounded on both sides.
func (i Interval) IsFull() bool { return math.IsInf(i.Lo, -1) && math.IsInf(i.Hi, 1) }

// Constant returns the single value of a point interval.
func (i Interval) Constant() (float64, bool) {
	if i.Lo == i.Hi && !i.LoOpen && !i.HiOpen {
		return i.Lo, true
	}
	return 0, false
}

// Contains reports whether v lies in i.
func (i Interval) Contains(v float64) bool {
	if v < i.Lo || (v == i.Lo && i.LoOpen) {
		return false
	}
	if v > i.Hi || (v == i.Hi && i.HiOpen) {
		return false
	}
	return true
}

// Subset reports whether every value of i lies in o.
func (i Interval) Subset(o Interval) bool {
	if i.IsEmpty() {
		return true
	}
	lowerOK := o.Lo < i.Lo || (o.Lo == i.Lo && (!o.LoOpen || i.LoOpen))
	upperOK := o.Hi > i.Hi || (o.Hi == i.Hi && (!o.HiOpen || i.HiOpen))
	return lowerOK && upperOK
}

// Intersect returns the values in both i and o.
func (i Interval) Intersect(o Interval) Interval {
	r := i
	if o.Lo > r.Lo || (o.Lo == r.Lo && o.LoOpen) {
		r.Lo, r.LoOpen = o.Lo, o.LoOpen
	}
	if o.Hi < r.Hi || (o.Hi == r.Hi && o.HiOpen) {
		r.Hi, r.HiOpen = o.Hi, o.HiOpen
	}
	return r
}

// Union returns the smallest interval containing both i and o.
func (i Interval) Union(o Interval) Interval {
	if i.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return i
	}
	r := i
	if o.Lo < r.Lo || (o.Lo == r.Lo && !o.LoOpen) {
		r.Lo, r.LoOpen = o.Lo, o.LoOpen
	}
	if o.Hi > r.Hi || (o.Hi == r.Hi && !o.HiOpen) {
		r.Hi, r.HiOpen = o.Hi, o.HiOpen
	}
	return r
}

// Disjoint reports whether i and o share no value.
func (i Interval) Disjoint(o Interval) bool { return i.Intersect(o).IsEmpty() }

// Integer narrows i to the integers it contains, closing every finite bound.
func (i Interval) Integer() Interval {
	r := i
	if !math.IsInf(r.Lo, 0) {
		lo := math.Ceil(r.Lo)
		if r.LoOpen && lo == r.Lo {
			lo++
		}
		r.Lo, r.LoOpen = lo, false
	}
	if !math.IsInf(r.Hi, 0) {
		hi := math.Floor(r.Hi)
		if r.HiOpen && hi == r.Hi {
			hi--
		}
		r.Hi, r.HiOpen = hi, false
	}
	return r
}

// ====== Arithmetic ======

// Add returns the interval of x+y for x in i and y in o.
func (i Interval) Add(o Interval) Interval {
	if i.IsEmpty() || o.IsEmpty() {
		return Empty()
	}
	return Interval{
		Lo: i.Lo + o.Lo, LoOpen: i.LoOpen || o.LoOpen,
		Hi: i.Hi + o.Hi, HiOpen: i.HiOpen || o.HiOpen,
	}.normalize()
}

// Sub returns the interval of x-y.
func (i Interval) Sub(o Interval) Interval { return i.Add(o.Neg()) }

// Neg returns the interval of -x.
func (i Interval) Neg() Interval {
	return Interval{Lo: -i.Hi, LoOpen: i.HiOpen, Hi: -i.Lo, HiOpen: i.LoOpen}
}

// Mul returns the interval of x*y. Bounds are closed conservatively.
func (i Interval) Mul(o Interval) Interval {
	if i.IsEmpty() || o.IsEmpty() {
		return Empty()
	}
	return hull(mulBound(i.Lo, o.Lo), mulBound(i.Lo, o.Hi), mulBound(i.Hi, o.Lo), mulBound(i.Hi, o.Hi))
}

// Div returns the interval of x/y. A divisor range containing zero yields the
// full interval.
func (i Interval) Div(o Interval) Interval {
	if i.IsEmpty() || o.IsEmpty() {
		return Empty()
	}
	if o.Contains(0) || (o.Lo == 0 || o.Hi == 0) {
		return Full()
	}
	return hull(divBound(i.Lo, o.Lo), divBound(i.Lo, o.Hi), divBound(i.Hi, o.Lo), divBound(i.Hi, o.Hi))
}

// DivInt returns the interval of truncating integer division.
func (i Interval) DivInt(o Interval) Interval {
	r := i.Div(o)
	if r.IsFull() || r.IsEmpty() {
		return r
	}
	if !math.IsInf(r.Lo, 0) {
		r.Lo = math.Trunc(r.Lo)
	}
	if !math.IsInf(r.Hi, 0) {
		r.Hi = math.Trunc(r.Hi)
	}
	r.LoOpen, r.HiOpen = math.IsInf(r.Lo, 0), math.IsInf(r.Hi, 0)
	return r
}

// Rem returns the interval of x%y where the result takes the sign of x.
func (i Interval) Rem(o Interval) Interval {
	if i.IsEmpty() || o.IsEmpty() {
		return Empty()
	}
	if o.Contains(0) {
		return Full()
	}
	if x, ok := i.Constant(); ok {
		if y, ok := o.Constant(); ok {
			return Point(math.Mod(x, y))
		}
	}
	m := math.Max(math.Abs(o.Lo), math.Abs(o.Hi))
	switch {
	case i.Lo >= 0:
		return Closed(0, math.Min(i.Hi, m))
	case i.Hi <= 0:
		return Closed(math.Max(i.Lo, -m), 0)
	}
	return Closed(math.Max(i.Lo, -m), math.Min(i.Hi, m))
}

// RemInt returns the interval of integer x%y.
func (i Interval) RemInt(o Interval) Interval {
	r := i.Rem(o)
	if r.IsFull() || r.IsEmpty() {
		return r
	}
	m := math.Max(math.Abs(o.Lo), math.Abs(o.Hi)) - 1
	return r.Intersect(Closed(-m, m))
}

func mulBound(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a * b
}

func divBound(a, b float64) float64 {
	if math.IsInf(a, 0) && math.IsInf(b, 0) {
		return 0
	}
	return a / b
}

func hull(vs ...float64) Interval {
	r := Interval{Lo: vs[0], Hi: vs[0]}
	for _, v := range vs[1:] {
		r.Lo = math.Min(r.Lo, v)
		r.Hi = math.Max(r.Hi, v)
	}
	return r.normalize()
}

func (i Interval) normalize() Interval {
	if math.IsInf(i.Lo, 0) {
		i.LoOpen = true
	}
	if math.IsInf(i.Hi, 0) {
		i.HiOpen = true
	}
	return i
}

// ====== Formatting ======

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// String renders i in mathematical notation, e.g. "[0, 100]" or "(0, +inf)".
func (i Interval) String() string {
	if i.IsEmpty() {
		return "{}"
	}
	var b strings.Builder
	if i.LoOpen {
		b.WriteByte('(')
	} else {
		b.WriteByte('[')
	}
	b.WriteString(formatBound(i.Lo))
	b.WriteString(", ")
	b.WriteString(formatBound(i.Hi))
	if i.HiOpen {
		b.WriteByte(')')
	} else {
		b.WriteByte(']')
	}
	return b.String()
}

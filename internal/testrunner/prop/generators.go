package prop

import "math/rand"

// GenInt64 returns integers in [lo, hi].
func GenInt64(lo, hi int64) Generator[int64] {
	return func(r *rand.Rand, _ int) int64 { return lo + r.Int63n(hi-lo+1) }
}

// ShrinkToward moves a value toward target by halving the distance.
func ShrinkToward(target int64) Shrinker[int64] {
	return func(v int64) []int64 {
		if v == target {
			return nil
		}
		out := []int64{target}
		if mid := target + (v-target)/2; mid != target && mid != v {
			out = append(out, mid)
		}
		if v > target {
			out = append(out, v-1)
		} else {
			out = append(out, v+1)
		}
		return out
	}
}

// GenOneOf chooses uniformly among xs.
func GenOneOf[T any](xs ...T) Generator[T] {
	return func(r *rand.Rand, _ int) T { return xs[r.Intn(len(xs))] }
}

// GenSlice returns slices of up to size elements.
func GenSlice[T any](elem Generator[T]) Generator[[]T] {
	return func(r *rand.Rand, size int) []T {
		out := make([]T, r.Intn(max(0, size)+1))
		for i := range out {
			out[i] = elem(r, size)
		}
		return out
	}
}

// GenPair combines two generators.
func GenPair[A, B any](a Generator[A], b Generator[B]) Generator[Pair[A, B]] {
	return func(r *rand.Rand, size int) Pair[A, B] { return Pair[A, B]{a(r, size), b(r, size)} }
}

// Pair is a generated two-tuple.
type Pair[A, B any] struct {
	A A
	B B
}

// ShrinkSlice drops either half, then shrinks the head element.
func ShrinkSlice[T any](elem Shrinker[T]) Shrinker[[]T] {
	return func(v []T) [][]T {
		if len(v) == 0 {
			return nil
		}
		mid := len(v) / 2
		out := [][]T{
			append([]T(nil), v[:mid]...),
			append([]T(nil), v[mid:]...),
		}
		if elem != nil {
			for _, s := range elem(v[0]) {
				out = append(out, append([]T{s}, v[1:]...))
			}
		}
		return out
	}
}

package executor

import (
	"cmp"
	"slices"
)

// Link is one entry of a Chain, holding either a general or a specific interceptor.
type Link[G, S Ordered] struct {
	General   G
	Specific  S
	IsGeneral bool

	order int
}

// OrderingIndex returns the index of the held interceptor as seen at selection.
func (l Link[G, S]) OrderingIndex() int { return l.order }

// Interceptor returns the held interceptor.
func (l Link[G, S]) Interceptor() Ordered {
	if l.IsGeneral {
		return l.General
	}
	return l.Specific
}

// Chain is the ordered, immutable selection of interceptors for one execution.
// Before runs it front to back, After back to front.
type Chain[G, S Ordered] struct {
	links      []Link[G, S]
	discarding bool
}

// Len returns the number of interceptors in the chain.
func (c Chain[G, S]) Len() int { return len(c.links) }

// Links returns a copy of the chain in ascending order.
func (c Chain[G, S]) Links() []Link[G, S] { return slices.Clone(c.links) }

// Discarding reports whether a single discarding interceptor won selection.
func (c Chain[G, S]) Discarding() bool { return c.discarding }

// Select computes the chain for one execution from the general and specific
// interceptors registered for it, both in registration order.
//
//  1. The discarding candidate of each set is the first registered
//     DiscardOthers interceptor with the smallest ordering index.
//  2. With candidates on both sides the specific one wins when its index is
//     lower or equal, or when it is also DiscardNonSpecific; otherwise the
//     general one wins. The winner runs alone.
//  3. A single candidate runs alone.
//  4. Without candidates, a DiscardNonSpecific specific interceptor drops all
//     general interceptors; the specific ones run sorted.
//  5. Otherwise everything runs, sorted ascending by index. The sort is
//     stable with specific interceptors placed ahead of general ones, so ties
//     keep that order and then registration order.
func Select[G, S Ordered](general []G, specific []S) Chain[G, S] {
	gi := firstDiscarding(general)
	si := firstDiscarding(specific)

	switch {
	case gi >= 0 && si >= 0:
		sd, gd := specific[si], general[gi]
		if sd.OrderingIndex() <= gd.OrderingIndex() || discardsNonSpecific(sd) {
			return onlySpecific[G](sd)
		}
		return onlyGeneral[G, S](gd)
	case si >= 0:
		return onlySpecific[G](specific[si])
	case gi >= 0:
		return onlyGeneral[G, S](general[gi])
	}

	if slices.ContainsFunc(specific, discardsNonSpecific[S]) {
		return merge[G](nil, specific)
	}
	return merge(general, specific)
}

func firstDiscarding[T Ordered](xs []T) int {
	best, bestOrder := -1, 0
	for i, x := range xs {
		if isNil(x) {
			continue
		}
		if _, ok := any(x).(DiscardOthers); !ok {
			continue
		}
		if o := x.OrderingIndex(); best < 0 || o < bestOrder {
			best, bestOrder = i, o
		}
	}
	return best
}

func discardsNonSpecific[T Ordered](x T) bool {
	_, ok := any(x).(DiscardNonSpecific)
	return ok
}

func isNil[T any](x T) bool { return any(x) == nil }

func onlySpecific[G, S Ordered](s S) Chain[G, S] {
	return Chain[G, S]{
		links:      []Link[G, S]{{Specific: s, order: s.OrderingIndex()}},
		discarding: true,
	}
}

func onlyGeneral[G, S Ordered](g G) Chain[G, S] {
	return Chain[G, S]{
		links:      []Link[G, S]{{General: g, IsGeneral: true, order: g.OrderingIndex()}},
		discarding: true,
	}
}

func merge[G, S Ordered](general []G, specific []S) Chain[G, S] {
	if len(general)+len(specific) == 0 {
		return Chain[G, S]{}
	}
	links := make([]Link[G, S], 0, len(general)+len(specific))
	for _, s := range specific {
		if !isNil(s) {
			links = append(links, Link[G, S]{Specific: s, order: s.OrderingIndex()})
		}
	}
	for _, g := range general {
		if !isNil(g) {
			links = append(links, Link[G, S]{General: g, IsGeneral: true, order: g.OrderingIndex()})
		}
	}
	slices.SortStableFunc(links, func(a, b Link[G, S]) int { return cmp.Compare(a.order, b.order) })
	return Chain[G, S]{links: links}
}

package port

// multimap is an ordered string-keyed multimap. Values under a key keep
// insertion order; keys with no values are removed.
type multimap[V any] struct {
	m map[string][]V
}

func newMultimap[V any]() multimap[V] {
	return multimap[V]{m: make(map[string][]V)}
}

func (mm multimap[V]) push(key string, v V) {
	mm.m[key] = append(mm.m[key], v)
}

// get returns a copy of the values under key.
func (mm multimap[V]) get(key string) []V {
	vs := mm.m[key]
	if len(vs) == 0 {
		return nil
	}
	out := make([]V, len(vs))
	copy(out, vs)
	return out
}

// set replaces the values under key; an empty vs removes the key.
func (mm multimap[V]) set(key string, vs []V) {
	if len(vs) == 0 {
		delete(mm.m, key)
		return
	}
	mm.m[key] = vs
}

// take removes and returns the first value under key matching pred.
func (mm multimap[V]) take(key string, pred func(V) bool) (V, bool) {
	vs := mm.m[key]
	for i, v := range vs {
		if !pred(v) {
			continue
		}
		rest := append(vs[:i:i], vs[i+1:]...)
		mm.set(key, rest)
		return v, true
	}
	var zero V
	return zero, false
}

func (mm multimap[V]) len(key string) int {
	return len(mm.m[key])
}

// total counts values across all keys.
func (mm multimap[V]) total() int {
	n := 0
	for _, vs := range mm.m {
		n += len(vs)
	}
	return n
}

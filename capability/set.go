package capability

// Set holds at most one Descriptor per Kind — a plugin's manifest or grant
// set never needs two simultaneous scopes for the same category, since
// Subsumes lets a single descriptor represent the broadest scope requested.
// Descriptor isn't comparable (it holds pointer fields), so the map is
// keyed by Kind rather than by the element itself.
type Set map[Kind]Descriptor

// NewSet builds a Set from descriptors, keeping only well-formed entries.
func NewSet(descriptors ...Descriptor) Set {
	s := make(Set, len(descriptors))
	for _, d := range descriptors {
		if d.WellFormed() {
			s[d.Kind] = d
		}
	}
	return s
}

func (s Set) Add(d Descriptor) {
	if d.WellFormed() {
		s[d.Kind] = d
	}
}

func (s Set) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

func (s Set) Get(k Kind) (Descriptor, bool) {
	d, ok := s[k]
	return d, ok
}

func (s Set) Len() int { return len(s) }

func (s Set) ToSlice() []Descriptor {
	out := make([]Descriptor, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	return out
}

// Union returns the broader of the two descriptors for every Kind present in
// either set. Where scopes aren't strictly comparable, s's entry wins — this
// is only correct when s is the known-superset side (e.g. combining grants
// from a previous version with newly requested ones before a fresh prompt).
func (s Set) Union(t Set) Set {
	res := make(Set, len(s)+len(t))
	for k, d := range s {
		res[k] = d
	}
	for k, d := range t {
		sd, ok := s[k]
		if !ok || (d.Subsumes(sd) && !sd.Subsumes(d)) {
			res[k] = d
		}
	}
	return res
}

// Diff returns the entries of s whose Kind is absent from t, or whose scope
// in s is not subsumed by t's scope for that Kind — i.e. what s requests
// that t does not already cover.
func (s Set) Diff(t Set) Set {
	res := make(Set)
	for k, d := range s {
		td, ok := t[k]
		if !ok || !td.Subsumes(d) {
			res[k] = d
		}
	}
	return res
}

// Subsumes reports whether every descriptor in other is covered by a
// same-Kind descriptor in s. An empty other is trivially subsumed.
func (s Set) Subsumes(other Set) bool {
	for k, od := range other {
		sd, ok := s[k]
		if !ok || !sd.Subsumes(od) {
			return false
		}
	}
	return true
}

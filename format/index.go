package format

// Index is the tag -> manifest mapping at the root of an OCI-layout
// directory (spec section 3). At most one descriptor may carry a given
// NameAnnotation at a time; ordering is insertion order and is not
// semantically significant (spec section 3, Invariants).
type Index struct {
	Manifests []Descriptor `json:"manifests"`
}

// FindTag returns the descriptor currently holding the given tag name.
func (idx *Index) FindTag(name string) (Descriptor, bool) {
	for _, m := range idx.Manifests {
		if n, ok := m.Name(); ok && n == name {
			return m, true
		}
	}
	return Descriptor{}, false
}

// AddTag attaches name to desc, first stripping it from any prior holder,
// and appends desc to the index (spec section 3, Lifecycles).
func (idx *Index) AddTag(name string, desc Descriptor) {
	for i := range idx.Manifests {
		if n, ok := idx.Manifests[i].Name(); ok && n == name {
			idx.Manifests[i].RemoveName()
		}
	}
	desc.SetName(name)
	idx.Manifests = append(idx.Manifests, desc)
}

// Package linereg maps an observer's local chalkline ids to the canonical
// ids assigned by the shared registry table. Observers number their lines
// independently, so every session rebuilds the mapping from LINE events
// against the persisted chalkline rows.
package linereg

import "fmt"

// MissingLineError is returned by Resolve when a position event references
// a local line id never seen in a prior LINE event.
type MissingLineError struct {
	LocalID int32
}

func (e *MissingLineError) Error() string {
	return fmt.Sprintf("no mapping for local line %d", e.LocalID)
}

// Registry is a bidirectional mapping between source-local and canonical
// line ids, keyed by line name. It is owned by a single ingestion loop and
// is not safe for concurrent use.
type Registry struct {
	source  map[string]int32 // name -> local id
	dest    map[string]int32 // name -> canonical id
	mapping map[int32]int32  // local id -> canonical id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		source:  make(map[string]int32),
		dest:    make(map[string]int32),
		mapping: make(map[int32]int32),
	}
}

// AddSource registers a local line id under name. If the canonical side
// already knows the name, the mapping is installed and AddSource reports true.
func (r *Registry) AddSource(localID int32, name string) bool {
	r.source[name] = localID
	if destID, ok := r.dest[name]; ok {
		r.mapping[localID] = destID
		return true
	}
	return false
}

// AddDest registers a canonical line id under name. If the source side
// already knows the name, the mapping is installed and AddDest reports true.
func (r *Registry) AddDest(canonicalID int32, name string) bool {
	r.dest[name] = canonicalID
	if srcID, ok := r.source[name]; ok {
		r.mapping[srcID] = canonicalID
		return true
	}
	return false
}

// Resolve returns the canonical id for a local line id.
func (r *Registry) Resolve(localID int32) (int32, error) {
	id, ok := r.mapping[localID]
	if !ok {
		return 0, &MissingLineError{LocalID: localID}
	}
	return id, nil
}

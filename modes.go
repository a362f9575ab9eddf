package gocapture

import (
	"sync"
)

// A KnownVideoMode associates a resolution with the signal parameters a
// user has confirmed look right at that resolution.
type KnownVideoMode struct {
	Resolution Resolution
	Parameters VideoSignalParameters
}

// A ModeAlias redirects parameter lookups for one detected resolution to
// another. When the hardware reports From, the signal is treated as To.
type ModeAlias struct {
	From Resolution
	To   Resolution
}

// A ModeStore resolves which signal parameters apply to a detected
// resolution. Known modes are kept in insertion order; lookup is by exact
// resolution equality, after at most one alias substitution.
//
// The store is read from the driver's callback thread while a new mode is
// being applied and mutated from the consumer thread, so all access goes
// through its own read/write lock. Mutations take effect on the next
// lookup; a lookup never observes a partially updated record.
type ModeStore struct {
	mu      sync.RWMutex
	modes   []KnownVideoMode
	aliases []ModeAlias
}

// NewModeStore returns an empty store. Lookups against it return
// DefaultVideoSignalParameters.
func NewModeStore() *ModeStore {
	return &ModeStore{}
}

// ParametersForResolution returns the parameters to apply for the given
// detected resolution: the aliased resolution's known-mode record if one
// exists, otherwise the package defaults. The result is deterministic for
// identical inputs.
func (s *ModeStore) ParametersForResolution(r Resolution) VideoSignalParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.aliases {
		if a.From == r {
			r = a.To
			break
		}
	}
	for _, m := range s.modes {
		if m.Resolution == r {
			return m.Parameters
		}
	}
	return DefaultVideoSignalParameters()
}

// AddKnownMode records parameters for a resolution, replacing any existing
// record for the same resolution in place.
func (s *ModeStore) AddKnownMode(mode KnownVideoMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.modes {
		if m.Resolution == mode.Resolution {
			s.modes[i] = mode
			return
		}
	}
	s.modes = append(s.modes, mode)
}

// RemoveKnownMode deletes the record for the given resolution, reporting
// whether one existed.
func (s *ModeStore) RemoveKnownMode(r Resolution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.modes {
		if m.Resolution == r {
			s.modes = append(s.modes[:i], s.modes[i+1:]...)
			return true
		}
	}
	return false
}

// SetKnownModes replaces the known-mode list.
func (s *ModeStore) SetKnownModes(modes []KnownVideoMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append([]KnownVideoMode(nil), modes...)
}

// KnownModes returns a snapshot of the known-mode list in insertion order.
func (s *ModeStore) KnownModes() []KnownVideoMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]KnownVideoMode(nil), s.modes...)
}

// AddAlias records a redirection, replacing any existing alias with the
// same source resolution.
func (s *ModeStore) AddAlias(alias ModeAlias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.aliases {
		if a.From == alias.From {
			s.aliases[i] = alias
			return
		}
	}
	s.aliases = append(s.aliases, alias)
}

// RemoveAlias deletes the alias for the given source resolution, reporting
// whether one existed.
func (s *ModeStore) RemoveAlias(from Resolution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.aliases {
		if a.From == from {
			s.aliases = append(s.aliases[:i], s.aliases[i+1:]...)
			return true
		}
	}
	return false
}

// SetAliases replaces the alias list.
func (s *ModeStore) SetAliases(aliases []ModeAlias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases = append([]ModeAlias(nil), aliases...)
}

// Aliases returns a snapshot of the alias list.
func (s *ModeStore) Aliases() []ModeAlias {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ModeAlias(nil), s.aliases...)
}

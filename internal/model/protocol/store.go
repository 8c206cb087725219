package protocol

// Store exposes protocol lookup for the controller and handlers.
type Store interface {
	List() []Protocol
	FindByID(id string) (Protocol, bool)
	Default() Protocol
}

// MemoryStore implements Store over a fixed slice. The first item is the
// default track for new sessions.
type MemoryStore struct {
	items []Protocol
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied protocols.
func NewMemoryStore(items []Protocol) *MemoryStore {
	return &MemoryStore{items: append([]Protocol(nil), items...)}
}

// List returns the configured protocols.
func (s *MemoryStore) List() []Protocol {
	return append([]Protocol(nil), s.items...)
}

// FindByID looks up a protocol by identifier.
func (s *MemoryStore) FindByID(id string) (Protocol, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Protocol{}, false
}

// Default returns the first protocol, or the zero value when empty.
func (s *MemoryStore) Default() Protocol {
	if len(s.items) == 0 {
		return Protocol{}
	}
	return s.items[0]
}

// Resolve returns the protocol for id, falling back to the default when id is
// empty.
func Resolve(s Store, id string) (Protocol, bool) {
	if id == "" {
		p := s.Default()
		return p, p.ID != ""
	}
	return s.FindByID(id)
}

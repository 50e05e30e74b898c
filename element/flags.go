package element

// Flags describe the role of a framework element within the graph.
type Flags uint32

const (
	// FlagAcceptsData marks an element that can receive data or calls.
	FlagAcceptsData Flags = 1 << iota
	// FlagEmitsData marks an element that can emit data or calls.
	FlagEmitsData
	// FlagOutputPort marks a port whose default connect direction is outgoing.
	FlagOutputPort
	// FlagNetworkElement marks a port that forwards across a transport boundary.
	FlagNetworkElement
	// FlagDeleted marks an element that has been removed from the graph.
	FlagDeleted
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// HasAny reports whether any bit of f2 is set in f.
func (f Flags) HasAny(f2 Flags) bool {
	return f&f2 != 0
}

package element

type (
	// Classification is the coarse run-time classification of a port data type.
	Classification uint8

	// DataType is the run-time type record attached to a port.
	// RPC interface types report size zero and classification other;
	// transports use this to route buffers to the right decoder.
	DataType struct {
		Name           string
		Classification Classification
		Size           int
	}
)

const (
	// ClassificationData is a plain serializable data type of known size.
	ClassificationData Classification = iota
	// ClassificationOther covers everything that is not plain data.
	ClassificationOther
)

// IsRPCType reports whether t is an RPC interface type.
func IsRPCType(t DataType) bool {
	return t.Size == 0 && t.Classification == ClassificationOther
}

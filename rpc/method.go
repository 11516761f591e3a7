package rpc

// Method describes a single RPC method: where it lives, how its messages
// are serialized, and how to allocate an output message for responses.
type Method struct {
	// Service is the fully qualified service type name.
	Service string

	// Name is the method name within the service.
	Name string

	// Codec serializes input messages and deserializes output messages.
	Codec Codec

	// NewOutput allocates an empty output message for the codec to
	// deserialize into.
	NewOutput func() any
}

// Path returns the method path in the "/<service>/<method>" form carried in
// envelope headers.
func (m Method) Path() string {
	return "/" + m.Service + "/" + m.Name
}

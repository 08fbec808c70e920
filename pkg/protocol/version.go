package protocol

// Version is the protocol version carried by every serialized payload
// that crosses an external boundary.
const Version = "1.1.0"

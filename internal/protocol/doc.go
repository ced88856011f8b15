// Package protocol owns the terminal protocol contract shared by every layer.
//
// Ownership boundary:
// - error taxonomy (ErrorKind) reported by factories and request submission
// - frame primitives (frame)
// - tag payload primitives (tags)
// - factory descriptors and required-option validation (schema)
// - channel+datalink session binding (session)
package protocol

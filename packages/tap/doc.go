// Package tap emits and parses Test Anything Protocol (version 13) streams.
//
// The Emitter produces one well-formed TAP document per test file. Result
// lines within a sibling group are written in ordinal order regardless of
// completion order, and a parent's result line always follows its children's
// lines; the Emitter buffers out-of-order subtrees until they can be written.
//
// The Parser is the consumer half: it reads a TAP document (typically the
// stdout of a test binary) back into a Run tree for rendering and reporting.
package tap

// Package protocol implements the jsonwire stream protocol.
//
// Peers exchange JSON objects over a raw byte stream with no length prefix and
// no delimiter. Message boundaries are inferred purely by brace balancing, so a
// single read may carry several documents, a fraction of one, or both.
//
// # Framing
//
// Extract scans a buffer left to right and tracks two things:
//   - depth: incremented on '{' and decremented on '}' outside string literals
//   - insideString: toggled on '"' unless preceded by an odd run of backslashes
//
// A document is complete when depth returns to zero on '}'. Whatever follows the
// last complete document is the residual and is carried into the next read:
//
//	docs, residual := protocol.Extract([]byte(`{"type":"heartbeat","value":52}{"type":"heartbeat","val`))
//	// docs     = [`{"type":"heartbeat","value":52}`]
//	// residual = `{"type":"heartbeat","val`
//
// Framer wraps Extract for callers that read a stream in chunks.
//
// # Messages
//
// Every document is a JSON object with a string "type" field:
//
//	{"type": "<kind>", ...kind-specific fields}
//
// The Dispatcher produces exactly one response per message. By default the
// response type is "<kind>Response". The userLogin kind is special-cased:
//
//	{"type":"userLogin","login":"bob","password":"secret"}
//	{"response":"Msg from server: Login successful! Login = bob Password = secret","type":"userLoginAnswer"}
//
// Additional kinds can be registered with Dispatcher.Handle.
//
// # Thread Safety
//
// Extract, Decode and Response.Marshal are stateless. A Dispatcher may be shared
// by every connection. A Framer belongs to a single stream.
package protocol

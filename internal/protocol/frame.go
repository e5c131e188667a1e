package protocol

// ReceiveBufferSize is the scratch buffer size used for a single raw read
const ReceiveBufferSize = 4000

// Extract splits buf into the complete top-level JSON documents it contains and
// the unconsumed residual bytes.
//
// A document ends when the brace depth returns to zero on a closing brace that
// is outside a string literal. A quote toggles the string state unless it is
// preceded by an odd number of backslashes. Bytes that precede the first brace
// of a document are kept as part of that document's span.
//
// The returned slices never alias buf. The residual is not capped: a stream that
// never closes a document keeps growing it.
func Extract(buf []byte) (docs [][]byte, residual []byte) {
	start := 0
	for start < len(buf) {
		end := completedIndex(buf[start:])
		if end == 0 {
			break
		}

		doc := make([]byte, end)
		copy(doc, buf[start:start+end])
		docs = append(docs, doc)
		start += end
	}

	residual = make([]byte, len(buf)-start)
	copy(residual, buf[start:])
	return docs, residual
}

// completedIndex returns the offset just past the first complete document in
// chunk, or 0 if chunk holds no complete document
func completedIndex(chunk []byte) int {
	depth := 0
	insideString := false

	for i, c := range chunk {
		if c == '"' {
			backslashes := 0
			for k := i; k > 0 && chunk[k-1] == '\\'; k-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				insideString = !insideString
			}
		}

		if insideString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return 0
}

// Framer carries the residual of a byte stream across reads.
// It is not safe for concurrent use.
type Framer struct {
	residual []byte
}

// Feed appends chunk to the carried residual and returns every document that
// became complete, in stream order.
func (f *Framer) Feed(chunk []byte) [][]byte {
	buf := make([]byte, 0, len(f.residual)+len(chunk))
	buf = append(buf, f.residual...)
	buf = append(buf, chunk...)

	docs, residual := Extract(buf)
	f.residual = residual
	return docs
}

// Residual returns a copy of the bytes not yet resolved into a document
func (f *Framer) Residual() []byte {
	out := make([]byte, len(f.residual))
	copy(out, f.residual)
	return out
}

// Len returns the residual length in bytes
func (f *Framer) Len() int {
	return len(f.residual)
}

// Reset drops the carried residual
func (f *Framer) Reset() {
	f.residual = nil
}

// Package serializer implements the binary wire format spoken between a slave
// and its master. It encodes request payloads and decodes response payloads on
// the client side, and does the inverse for the server side.
//
// Framing (the 4 byte length prefix) is not part of this package, see the
// transport packages. A payload looks like this:
//
//	request:  [opcode byte][slave context (context-bearing types only)][body]
//	response: [result][transaction streams (context-bearing types only)]
//
// All integers are big endian, strings are written as an int32 byte length
// followed by their UTF-8 bytes.
//
// Key Components:
//
//   - Request / Result: Plain structs holding the fields of every request type
//     and every result type. Which fields are used depends on the common.RequestType.
//
//   - operations: A table indexed by request type holding the body and result
//     codec of every operation. The table is checked for completeness at
//     package initialization, adding a request type without a codec panics.
//
//   - Transaction stream: The body of a commit. Chunks are copied from the
//     caller's stream into the output buffer one by one, each prefixed with its
//     length, and terminated by a zero length. The transaction is never
//     materialized as one slice on the client side.
//
//   - Transaction streams: The trailing section of context-bearing responses.
//     The section is validated completely when decoding, the records themselves
//     are decoded lazily on Next and alias the decoded payload.
//
// Error Handling:
//
//	Every decoding problem (truncated data, negative or oversized lengths,
//	unknown opcodes or enum values, trailing bytes) is reported as an error
//	wrapping common.ErrMalformedFrame. Encoding errors are returned as plain
//	errors (e.g. a string that does not fit in an int32 length).
//
// Thread Safety:
//
//	All functions are stateless. Decoded requests and streams alias the given
//	payload and must not be used after the payload buffer is reused.
//
// Usage:
//
//	var buf bytes.Buffer
//	err := serializer.EncodeRequest(&buf, &serializer.Request{
//	    Type:     common.ReqTAcquireNodeWriteLock,
//	    Context:  sc,
//	    Entities: []int64{1, 2, 3},
//	})
//	// ... send the frame, read the response payload ...
//	var res serializer.Result
//	streams, err := serializer.DecodeResponse(payload, common.ReqTAcquireNodeWriteLock, &res)
package serializer

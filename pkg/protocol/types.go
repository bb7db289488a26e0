// Package protocol implements the chunked transfer wire format.
//
// A frame is a JSON header line, an optional base64 payload and the
// two-byte delimiter ".\n":
//
//  {"type":"start","name":"a.bin","size":200000}\n.\n
//  {"type":"chunk","seq":0,"len":87384}\n<base64>.\n
//  {"type":"end","checksum":"<hex sha256>"}\n.\n
//
// The base64 alphabet never contains '.', and the JSON header never contains
// a raw newline, so the first ".\n" after a header line always ends the frame.
// The receiver answers a complete transfer with a single ACK line.
package protocol

// FrameType discriminates transfer headers.
type FrameType string

const (
    TypeStart FrameType = "start"
    TypeChunk FrameType = "chunk"
    TypeEnd   FrameType = "end"
)

// Protocol constants.
const (
    DefaultPort      = 8080
    DefaultChunkSize = 64 * 1024
)

// Delimiter terminates every frame.
const Delimiter = ".\n"

// Acknowledgement lines written by the receiver after an end frame.
const (
    AckOK   = "ACK_OK"
    AckFail = "ACK_FAIL"
)

// ContentType hints for payload codecs.
const (
    ContentJSON = "application/json"
    ContentCBOR = "application/cbor"
)

package protocol_test

import (
    "fmt"

    "p2pdrop/pkg/protocol"
)

func ExampleEncode() {
    b, _ := protocol.Encode(protocol.Chunk(0, 4), protocol.EncodePayload([]byte("abc")))
    fmt.Printf("%q\n", b)
    // Output:
    // "{\"type\":\"chunk\",\"seq\":0,\"len\":4}\nYWJj.\n"
}

package protocol

import (
    "bytes"
    "strings"
    "testing"
)

func TestEncodeByteExact(t *testing.T) {
    cases := []struct {
        h       Header
        payload []byte
        want    string
    }{
        {Start("a.bin", 0), nil, `{"type":"start","name":"a.bin","size":0}` + "\n.\n"},
        {Chunk(0, 4), []byte("QUJD"), `{"type":"chunk","seq":0,"len":4}` + "\nQUJD.\n"},
        {End("abc123"), nil, `{"type":"end","checksum":"abc123"}` + "\n.\n"},
    }
    for _, c := range cases {
        b, err := Encode(c.h, c.payload)
        if err != nil { t.Fatalf("encode %s: %v", c.h.Type, err) }
        if string(b) != c.want {
            t.Fatalf("encode %s = %q, want %q", c.h.Type, b, c.want)
        }
    }
}

func TestEncodeUnknownType(t *testing.T) {
    if _, err := Encode(Header{Type: "bogus"}, nil); err == nil {
        t.Fatalf("expected error for unknown type")
    }
}

func TestDecodeSequence(t *testing.T) {
    raw := []byte("hello, chunked world")
    enc := EncodePayload(raw)

    var stream bytes.Buffer
    for _, f := range []struct {
        h Header
        p []byte
    }{
        {Start("greeting.txt", uint64(len(raw))), nil},
        {Chunk(0, uint32(len(enc))), enc},
        {End("deadbeef"), nil},
    } {
        if _, err := WriteFrame(&stream, f.h, f.p); err != nil { t.Fatalf("write: %v", err) }
    }

    d := NewDecoder()
    d.Feed(stream.Bytes())

    f, ok := d.Next()
    if !ok || f.Header.Type != TypeStart || f.Header.Name != "greeting.txt" || f.Header.Size != uint64(len(raw)) {
        t.Fatalf("start frame: %+v ok=%v", f, ok)
    }
    f, ok = d.Next()
    if !ok || f.Header.Type != TypeChunk || f.Header.Seq != 0 || int(f.Header.Len) != len(enc) {
        t.Fatalf("chunk frame: %+v ok=%v", f.Header, ok)
    }
    data, err := f.Data()
    if err != nil { t.Fatalf("data: %v", err) }
    if !bytes.Equal(data, raw) { t.Fatalf("payload = %q", data) }

    f, ok = d.Next()
    if !ok || f.Header.Type != TypeEnd || f.Header.Checksum != "deadbeef" {
        t.Fatalf("end frame: %+v ok=%v", f.Header, ok)
    }
    if _, ok := d.Next(); ok { t.Fatalf("expected incomplete") }
    if d.Buffered() != 0 { t.Fatalf("buffered = %d", d.Buffered()) }
}

func TestDecodeIncrementalFeeds(t *testing.T) {
    enc := EncodePayload(bytes.Repeat([]byte{0xab}, 3000))
    frame, err := Encode(Chunk(7, uint32(len(enc))), enc)
    if err != nil { t.Fatalf("encode: %v", err) }

    d := NewDecoder()
    got := 0
    for i := 0; i < len(frame); i += 13 {
        end := i + 13
        if end > len(frame) { end = len(frame) }
        d.Feed(frame[i:end])
        for {
            f, ok := d.Next()
            if !ok { break }
            got++
            if f.Header.Seq != 7 || !bytes.Equal(f.Payload, enc) {
                t.Fatalf("frame mismatch: seq=%d len=%d", f.Header.Seq, len(f.Payload))
            }
        }
    }
    if got != 1 { t.Fatalf("frames = %d, want 1", got) }
}

func TestDecodeSkipsGarbage(t *testing.T) {
    var skipped []*ParseError
    d := NewDecoder()
    d.OnSkip = func(pe *ParseError) { skipped = append(skipped, pe) }

    d.Feed([]byte("not json at all\n.\n"))
    d.Feed([]byte("no newline here.\n"))
    d.Feed([]byte(`{"type":"weird"}` + "\n.\n"))
    good, _ := Encode(Start("ok.bin", 1), nil)
    d.Feed(good)

    f, ok := d.Next()
    if !ok || f.Header.Name != "ok.bin" {
        t.Fatalf("expected start frame after garbage, got %+v ok=%v", f, ok)
    }
    if d.Skipped() != 3 || len(skipped) != 3 {
        t.Fatalf("skipped = %d (%d hooks), want 3", d.Skipped(), len(skipped))
    }
}

func TestDecodeToleratesNewlineBeforeDelimiter(t *testing.T) {
    d := NewDecoder()
    d.Feed([]byte(`{"type":"chunk","seq":1,"len":4}` + "\nQUJD\n.\n"))
    f, ok := d.Next()
    if !ok { t.Fatalf("no frame") }
    if string(f.Payload) != "QUJD" { t.Fatalf("payload = %q", f.Payload) }
}

func TestFrameTerminatorNotShared(t *testing.T) {
    first, err := Encode(End("abc"), nil)
    if err != nil { t.Fatalf("encode: %v", err) }
    copy(first[len(first)-2:], "XX")

    second, err := Encode(End("abc"), nil)
    if err != nil { t.Fatalf("encode: %v", err) }
    if !bytes.HasSuffix(second, []byte(".\n")) { t.Fatalf("frame = %q, terminator changed", second) }

    d := NewDecoder()
    d.Feed(second)
    if _, ok := d.Next(); !ok { t.Fatalf("decoder lost the terminator") }
}

func TestParseAck(t *testing.T) {
    if ParseAck("ACK_OK\n") != AckAccepted { t.Fatalf("ACK_OK not accepted") }
    if ParseAck(" ACK_FAIL\r\n") != AckRejected { t.Fatalf("ACK_FAIL not rejected") }
    if ParseAck("NOPE") != AckUnknown { t.Fatalf("garbage classified") }
    if !strings.HasSuffix(string(AckLine(true)), "\n") { t.Fatalf("ack line lacks newline") }
}

package chunkio

import (
	"testing"

	"ktap/internal/parser"
)

func TestWriteReadRoundTrip(t *testing.T) {
	proto, err := parser.Parse("<test>", "return 1+2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	data := Write(proto, false)
	if len(data) < len(magic) {
		t.Fatalf("chunk too short: %d bytes", len(data))
	}
	for i, b := range magic {
		if data[i] != b {
			t.Fatalf("byte %d: got %#x, want %#x", i, data[i], b)
		}
	}

	got, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.NumParams != proto.NumParams {
		t.Errorf("NumParams: got %d, want %d", got.NumParams, proto.NumParams)
	}
	if got.FrameSize != proto.FrameSize {
		t.Errorf("FrameSize: got %d, want %d", got.FrameSize, proto.FrameSize)
	}
	if len(got.Code) != len(proto.Code) {
		t.Fatalf("Code length: got %d, want %d", len(got.Code), len(proto.Code))
	}
	for i := range proto.Code {
		if got.Code[i] != proto.Code[i] {
			t.Errorf("Code[%d]: got %#x, want %#x", i, got.Code[i], proto.Code[i])
		}
	}
}

func TestReadRejectsUnknownFlags(t *testing.T) {
	proto, err := parser.Parse("<test>", "return 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := Write(proto, false)
	data[4] |= 0x80 // an undefined flag bit
	if _, err := Read(data); err == nil {
		t.Fatal("expected Read to reject an unknown flag bit")
	}
}

func TestReadRejectsFFIFlag(t *testing.T) {
	proto, err := parser.Parse("<test>", "return 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := Write(proto, false)
	data[4] |= FlagFFI
	if _, err := Read(data); err == nil {
		t.Fatal("expected Read to reject the FFI flag")
	}
}

func TestStripOmitsChunkname(t *testing.T) {
	proto, err := parser.Parse("myfile.kp", "return 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	full := Write(proto, false)
	stripped := Write(proto, true)
	if len(stripped) >= len(full) {
		t.Fatalf("stripped chunk (%d bytes) should be smaller than full (%d bytes)", len(stripped), len(full))
	}
}

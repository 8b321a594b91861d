package wav

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeHeaderLayout(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	out := Encode(pcm, 24000)

	if len(out) != HeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" {
		t.Fatalf("missing RIFF marker")
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("wrong RIFF size: %d", got)
	}
	if string(out[8:12]) != "WAVE" || string(out[12:16]) != "fmt " {
		t.Fatalf("missing WAVE/fmt markers")
	}
	if got := binary.LittleEndian.Uint32(out[16:20]); got != 16 {
		t.Fatalf("wrong fmt chunk size: %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
		t.Fatalf("expected PCM format tag, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Fatalf("expected mono, got %d channels", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 24000 {
		t.Fatalf("wrong sample rate: %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 48000 {
		t.Fatalf("wrong byte rate: %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[32:34]); got != 2 {
		t.Fatalf("wrong block align: %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Fatalf("wrong bits per sample: %d", got)
	}
	if string(out[36:40]) != "data" {
		t.Fatalf("missing data marker")
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("wrong data size: %d", got)
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 7}
	encoded := EncodeSamples(samples, 24000)

	decoded, rate, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rate != 24000 {
		t.Fatalf("expected rate 24000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for invalid data")
	}
	if _, _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestParseSkipsExtraChunks(t *testing.T) {
	// Writers may emit a LIST chunk between fmt and data.
	var buf bytes.Buffer
	pcm := []byte{0xAA, 0xBB}
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // size unused by parser
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(24000))
	binary.Write(&buf, binary.LittleEndian, uint32(48000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	info, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 {
		t.Fatalf("unexpected format: %+v", info)
	}
	if info.DataLen != len(pcm) {
		t.Fatalf("expected data len %d, got %d", len(pcm), info.DataLen)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(24000, 24000); d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
	if d := Duration(4800, 24000); d != 200*time.Millisecond {
		t.Fatalf("expected 200ms, got %v", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Fatalf("expected 0 for invalid rate, got %v", d)
	}
}

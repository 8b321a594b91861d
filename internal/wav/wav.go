// Package wav encodes and decodes the canonical uncompressed PCM WAV
// container used across the pipeline: little-endian signed 16-bit mono
// samples with the standard 44-byte RIFF/WAVE/fmt /data header.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the fixed size of the canonical header this package writes.
const HeaderSize = 44

const (
	formatPCM     = 1
	bitsPerSample = 16
	numChannels   = 1
)

// Encode wraps raw little-endian int16 PCM bytes in a canonical WAV
// container. The header layout is fixed so output is bit-exact across
// implementations that share this contract.
func Encode(pcm []byte, sampleRate int) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)
	return out
}

// EncodeSamples is Encode over decoded int16 samples.
func EncodeSamples(samples []int16, sampleRate int) []byte {
	return Encode(SamplesToBytes(samples), sampleRate)
}

// Info holds the format metadata extracted from a RIFF/WAVE header.
type Info struct {
	SampleRate int
	Channels   int
	DataOffset int
	DataLen    int
}

// Parse walks the RIFF chunks in data and returns the format and the
// location of the PCM payload. Walking chunks instead of assuming a fixed
// 44-byte offset keeps decoding compatible with writers that emit extra
// chunks before data.
func Parse(data []byte) (Info, error) {
	if len(data) < 12 {
		return Info{}, errors.New("wav: too short to be a RIFF file")
	}
	if string(data[0:4]) != "RIFF" {
		return Info{}, errors.New("wav: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return Info{}, errors.New("wav: missing WAVE identifier")
	}

	var info Info
	foundFmt := false
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(data) {
				fmtData := data[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return Info{}, errors.New("wav: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLen = chunkSize
			if info.DataOffset+info.DataLen > len(data) {
				info.DataLen = len(data) - info.DataOffset
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Info{}, errors.New("wav: missing data chunk")
}

// Decode returns the int16 PCM samples and sample rate of a mono WAV file.
func Decode(data []byte) ([]int16, int, error) {
	info, err := Parse(data)
	if err != nil {
		return nil, 0, err
	}
	if info.Channels != numChannels {
		return nil, 0, fmt.Errorf("wav: expected mono audio, got %d channels", info.Channels)
	}
	pcm := data[info.DataOffset : info.DataOffset+info.DataLen]
	return BytesToSamples(pcm), info.SampleRate, nil
}

// SamplesToBytes serializes int16 samples as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples deserializes little-endian bytes into int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Duration reports the playback time of sampleCount mono samples.
func Duration(sampleCount, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(sampleCount) * time.Second / time.Duration(sampleRate)
}

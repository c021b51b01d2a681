package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultSampleRate is assumed for raw PCM buffers that carry no header.
const DefaultSampleRate = 16000

var (
	ErrEmptyAudio       = errors.New("audio: empty buffer")
	ErrUnsupportedAudio = errors.New("audio: unsupported format")
)

// Clip is decoded mono audio normalised to [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Decode accepts either a RIFF/WAVE container with 16-bit PCM or a raw
// PCM16LE mono buffer. sampleRate is only used for raw buffers.
func Decode(data []byte, sampleRate int) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return decodeWAV(data)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return Clip{Samples: pcm16ToFloat(data, 1), SampleRate: sampleRate}, nil
}

func decodeWAV(data []byte) (Clip, error) {
	r := bytes.NewReader(data[12:])
	var (
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		format        uint16
		haveFmt       bool
	)
	for {
		var id [4]byte
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return Clip{}, fmt.Errorf("%w: missing data chunk", ErrUnsupportedAudio)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Clip{}, fmt.Errorf("read chunk size: %w", err)
		}
		switch string(id[:]) {
		case "fmt ":
			chunk := make([]byte, size)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return Clip{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(chunk) < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedAudio)
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedAudio)
			}
			if format != 1 || bitsPerSample != 16 || channels == 0 {
				return Clip{}, fmt.Errorf("%w: format=%d bits=%d channels=%d", ErrUnsupportedAudio, format, bitsPerSample, channels)
			}
			n := int(size)
			if n > r.Len() {
				n = r.Len()
			}
			pcm := make([]byte, n)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return Clip{}, fmt.Errorf("read data chunk: %w", err)
			}
			return Clip{Samples: pcm16ToFloat(pcm, int(channels)), SampleRate: int(sampleRate)}, nil
		default:
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return Clip{}, fmt.Errorf("skip chunk %q: %w", string(id[:]), err)
			}
		}
	}
}

// pcm16ToFloat keeps only the first channel of interleaved frames.
func pcm16ToFloat(pcm []byte, channels int) []float64 {
	if channels <= 0 {
		channels = 1
	}
	stride := 2 * channels
	out := make([]float64, 0, len(pcm)/stride)
	for i := 0; i+1 < len(pcm); i += stride {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		out = append(out, float64(v)/32768.0)
	}
	return out
}

// EncodePCM16LE converts normalised samples back to raw PCM16LE bytes.
func EncodePCM16LE(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s*32767)))
	}
	return out
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)
	header := []any{
		uint32(36) + dataSize,
	}
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("WAVEfmt "); err != nil {
		return err
	}
	fmtChunk := []any{
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	}
	for _, v := range fmtChunk {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// WAV layout constants.
const (
	wavHeaderSize     = 44
	wavFmtChunkSize   = 16
	wavFormatPCM      = 1
	wavFormatFloat    = 3
	wavFormatExtended = 0xFFFE
	pcm16BitsPerSamp  = 16
	pcm16MaxValue     = math.MaxInt16
	filePermissions   = 0o600

	// MaxDataBytes bounds the sample data read from one WAV stream, about
	// 25 minutes of 44.1 kHz stereo 16-bit audio.
	MaxDataBytes = 256 << 20

	// streamedDataSize is written by encoders that cannot seek back to fix
	// up the header, such as ffmpeg writing to a pipe.
	streamedDataSize = 0xFFFFFFFF
)

var (
	// ErrInvalidWAV is returned when a stream is not a readable RIFF/WAVE file.
	ErrInvalidWAV = errors.New("invalid WAV data")
	// ErrUnsupportedWAV is returned for encodings the decoder does not handle.
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAV writes buf as a mono 16-bit PCM WAV stream. Samples outside
// [-1, 1] saturate at full scale.
func EncodeWAV(w io.Writer, buf Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidWAV)
	}

	const bytesPerSample = pcm16BitsPerSamp / 8

	dataSize := uint32(len(buf.Samples) * bytesPerSample)

	header := struct {
		RIFF     [4]byte
		Size     uint32
		WAVE     [4]byte
		Fmt      [4]byte
		FmtSize  uint32
		Format   wavFormat
		Data     [4]byte
		DataSize uint32
	}{
		RIFF:    [4]byte{'R', 'I', 'F', 'F'},
		Size:    wavHeaderSize - 8 + dataSize,
		WAVE:    [4]byte{'W', 'A', 'V', 'E'},
		Fmt:     [4]byte{'f', 'm', 't', ' '},
		FmtSize: wavFmtChunkSize,
		Format: wavFormat{
			AudioFormat:   wavFormatPCM,
			Channels:      1,
			SampleRate:    uint32(buf.SampleRate),
			ByteRate:      uint32(buf.SampleRate * bytesPerSample),
			BlockAlign:    bytesPerSample,
			BitsPerSample: pcm16BitsPerSamp,
		},
		Data:     [4]byte{'d', 'a', 't', 'a'},
		DataSize: dataSize,
	}

	var out bytes.Buffer

	out.Grow(wavHeaderSize + int(dataSize))

	err := binary.Write(&out, binary.LittleEndian, header)
	if err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]int16, len(buf.Samples))
	for index, sample := range buf.Samples {
		pcm[index] = toPCM16(sample)
	}

	err = binary.Write(&out, binary.LittleEndian, pcm)
	if err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}

	_, err = w.Write(out.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return nil
}

// PCM16 converts buf to little-endian signed 16-bit samples, saturating at
// full scale.
func PCM16(buf Buffer) []byte {
	out := make([]byte, 2*len(buf.Samples))
	for index, sample := range buf.Samples {
		binary.LittleEndian.PutUint16(out[2*index:], uint16(toPCM16(sample)))
	}

	return out
}

func toPCM16(sample float64) int16 {
	if math.IsNaN(sample) {
		return 0
	}

	clamped := math.Max(-1, math.Min(1, sample))

	return int16(math.Round(clamped * pcm16MaxValue))
}

// WriteWAVFile encodes buf into a new file at path.
func WriteWAVFile(path string, buf Buffer) error {
	var out bytes.Buffer

	err := EncodeWAV(&out, buf)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, out.Bytes(), filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write WAV file %s: %w", path, err)
	}

	return nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to open WAV file %s: %w", path, err)
	}
	defer file.Close()

	return DecodeWAV(file)
}

// DecodeWAV reads an 8/16/24/32-bit PCM or 32-bit float WAV stream. Multiple
// channels are averaged down to mono.
func DecodeWAV(r io.Reader) (Buffer, error) {
	var riff [12]byte

	_, err := io.ReadFull(r, riff[:])
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrInvalidWAV)
	}

	var (
		format    wavFormat
		hasFormat bool
	)

	for {
		var chunkHeader [8]byte

		_, err = io.ReadFull(r, chunkHeader[:])
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: no data chunk: %w", ErrInvalidWAV, err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			format, err = readFormatChunk(r, chunkSize)
			if err != nil {
				return Buffer{}, err
			}

			hasFormat = true
		case "data":
			if !hasFormat {
				return Buffer{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}

			var data []byte

			data, err = readDataChunk(r, chunkSize)
			if err != nil {
				return Buffer{}, err
			}

			return decodeSamples(format, data)
		default:
			err = skip(r, int64(chunkSize)+int64(chunkSize%2))
			if err != nil {
				return Buffer{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
		}
	}
}

// readDataChunk reads the sample data. A zero or streamed size reads to the
// end of the stream.
func readDataChunk(r io.Reader, size uint32) ([]byte, error) {
	if size == 0 || size == streamedDataSize {
		data, err := io.ReadAll(io.LimitReader(r, MaxDataBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
		}

		if len(data) > MaxDataBytes {
			return nil, fmt.Errorf("%w: data exceeds %d bytes", ErrInvalidWAV, MaxDataBytes)
		}

		return data, nil
	}

	if size > MaxDataBytes {
		return nil, fmt.Errorf("%w: data chunk of %d bytes exceeds %d", ErrInvalidWAV, size, MaxDataBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	if len(data) < int(size) {
		return nil, fmt.Errorf("%w: truncated data chunk: %d of %d bytes", ErrInvalidWAV, len(data), size)
	}

	return data, nil
}

func readFormatChunk(r io.Reader, size uint32) (wavFormat, error) {
	if size < wavFmtChunkSize {
		return wavFormat{}, fmt.Errorf("%w: fmt chunk too small (%d bytes)", ErrInvalidWAV, size)
	}

	var format wavFormat

	err := binary.Read(r, binary.LittleEndian, &format)
	if err != nil {
		return wavFormat{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	extra := int64(size-wavFmtChunkSize) + int64(size%2)
	if format.AudioFormat == wavFormatExtended && extra >= 10 {
		// WAVE_FORMAT_EXTENSIBLE: the real format is the first two bytes of
		// the sub-format GUID, after cbSize, valid bits and channel mask.
		var ext [10]byte

		_, err = io.ReadFull(r, ext[:])
		if err != nil {
			return wavFormat{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
		}

		format.AudioFormat = binary.LittleEndian.Uint16(ext[8:10])
		extra -= int64(len(ext))
	}

	err = skip(r, extra)
	if err != nil {
		return wavFormat{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	if format.Channels == 0 || format.SampleRate == 0 {
		return wavFormat{}, fmt.Errorf("%w: zero channels or sample rate", ErrInvalidWAV)
	}

	return format, nil
}

func decodeSamples(format wavFormat, data []byte) (Buffer, error) {
	bytesPerSample := int(format.BitsPerSample) / 8

	var convert func([]byte) float64

	switch {
	case format.AudioFormat == wavFormatPCM && format.BitsPerSample == 8:
		convert = func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case format.AudioFormat == wavFormatPCM && format.BitsPerSample == 16:
		convert = func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	case format.AudioFormat == wavFormatPCM && format.BitsPerSample == 24:
		convert = func(b []byte) float64 {
			value := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8

			return float64(value) / (1 << 23)
		}
	case format.AudioFormat == wavFormatPCM && format.BitsPerSample == 32:
		convert = func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
		}
	case format.AudioFormat == wavFormatFloat && format.BitsPerSample == 32:
		convert = func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
	default:
		return Buffer{}, fmt.Errorf(
			"%w: format %d with %d bits per sample",
			ErrUnsupportedWAV, format.AudioFormat, format.BitsPerSample,
		)
	}

	channels := int(format.Channels)
	if channels == 0 {
		return Buffer{}, fmt.Errorf("%w: zero channels", ErrInvalidWAV)
	}

	frameSize := bytesPerSample * channels
	frames := len(data) / frameSize
	samples := make([]float64, frames)

	for frame := range frames {
		var sum float64

		offset := frame * frameSize
		for channel := range channels {
			start := offset + channel*bytesPerSample
			sum += convert(data[start : start+bytesPerSample])
		}

		samples[frame] = sum / float64(channels)
	}

	return Buffer{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

func skip(r io.Reader, count int64) error {
	if count <= 0 {
		return nil
	}

	_, err := io.CopyN(io.Discard, r, count)
	if err != nil {
		return fmt.Errorf("failed to skip %d bytes: %w", count, err)
	}

	return nil
}

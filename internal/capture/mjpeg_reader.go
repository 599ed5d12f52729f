package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	// Register decoders for sources that deliver PNG or GIF stills.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"hazardwatch/internal/pipeline"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxFrameBytes bounds the read buffer when a stream never closes a frame
const maxFrameBytes = 16 << 20

// MJPEGReader splits a concatenated JPEG byte stream (ffmpeg image2pipe
// output) into individual frames.
type MJPEGReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	err   error
}

// NewMJPEGReader wraps r
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{
		r:     r,
		buf:   make([]byte, 0, 1<<20),
		chunk: make([]byte, 32<<10),
	}
}

// Next returns the next complete JPEG. Once the underlying reader is
// exhausted it returns io.EOF; a trailing partial frame is discarded.
func (m *MJPEGReader) Next() ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&m.buf); frame != nil {
			return frame, nil
		}
		if m.err != nil {
			return nil, m.err
		}
		if len(m.buf) > maxFrameBytes {
			m.buf = m.buf[:0]
			return nil, fmt.Errorf("frame exceeds %d bytes without an end marker", maxFrameBytes)
		}

		n, err := m.r.Read(m.chunk)
		m.buf = append(m.buf, m.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				err = io.EOF
			}
			m.err = err
		}
	}
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer.
// Bytes before the start marker are dropped.
func extractJPEGFrame(buffer *[]byte) []byte {
	b := *buffer
	start := bytes.Index(b, jpegSOI)
	if start < 0 {
		// Keep a trailing 0xFF in case it begins a marker split across reads.
		if n := len(b); n > 0 && b[n-1] == 0xFF {
			*buffer = append(b[:0], 0xFF)
		} else {
			*buffer = b[:0]
		}
		return nil
	}
	end := bytes.Index(b[start+2:], jpegEOI)
	if end < 0 {
		if start > 0 {
			*buffer = append(b[:0], b[start:]...)
		}
		return nil
	}
	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buffer = append(b[:0], b[end:]...)
	return frame
}

// decodeFrame turns encoded image bytes into a pipeline frame. JPEG input
// keeps its encoding so consumers can reuse it.
func decodeFrame(seq uint64, data []byte, at time.Time) (*pipeline.Frame, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %d: %w", seq, err)
	}
	frame := &pipeline.Frame{Seq: seq, Timestamp: at, Image: img}
	if format == "jpeg" {
		frame.Encoded = data
	}
	return frame, nil
}

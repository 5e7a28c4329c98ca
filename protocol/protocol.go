// Package protocol implements the frame layer of tiny-rpc.
//
// TCP is a byte stream: one Read may return half a message, or two messages glued
// together. Every message is therefore terminated by the two bytes "\r\n", and the
// receiver buffers input until a complete frame is available:
//
//	{"method":"add","args":[2,3]}\r\n{"method":"upp      <- one read
//	er","args":["hi"]}\r                                 <- next read (terminator split)
//	\n                                                   <- and the last byte
//
// yields exactly two frames. The frame body itself is opaque here; see package codec.
package protocol

import (
	"bufio"
	"bytes"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Terminator ends every frame in both directions.
var Terminator = []byte("\r\n")

// DefaultMaxFrameBytes bounds a single frame when no explicit limit is configured.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned when the peer sends more than the frame limit without a terminator.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Reader splits a byte stream into frames.
// It is not safe for concurrent use; each connection owns exactly one Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	initial := 4096
	if maxFrame < initial {
		initial = maxFrame
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxFrame+len(Terminator))
	scanner.Split(ScanFrames)
	return &Reader{scanner: scanner}
}

// ReadFrame returns the next frame without its terminator.
//
// It returns io.EOF once the peer has closed the stream and every buffered frame has been
// delivered. The returned slice is owned by the caller.
func (r *Reader) ReadFrame() ([]byte, error) {
	if r.scanner.Scan() {
		frame := r.scanner.Bytes()
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}

	err := r.scanner.Err()
	if err == nil {
		return nil, io.EOF
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return nil, ErrFrameTooLarge
	}
	return nil, err
}

// ScanFrames is a bufio.SplitFunc that cuts data at each "\r\n".
//
// Bytes left over at EOF without a terminator are returned as a final frame, unless they
// are only whitespace.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, Terminator); i >= 0 {
		return i + len(Terminator), data[:i], nil
	}

	if atEOF {
		if len(bytes.TrimSpace(data)) == 0 {
			return len(data), nil, nil
		}
		return len(data), data, nil
	}

	// Request more data
	return 0, nil, nil
}

// WriteFrame writes body followed by the terminator in a single vectored write.
// Callers sharing w between goroutines must serialize calls themselves.
func WriteFrame(w io.Writer, body []byte) error {
	bufs := net.Buffers{body, Terminator}
	_, err := bufs.WriteTo(w)
	return err
}

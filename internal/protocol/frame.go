package protocol

import (
	"encoding/binary"
	"io"
	"sync"
	"unicode/utf8"
)

// LengthPrefixSize is the width of the big-endian frame-length header.
const LengthPrefixSize = 4

// lengthBufPool recycles the 4-byte length-prefix scratch buffer used
// on both the read and write paths.
var lengthBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, LengthPrefixSize)
		return &buf
	},
}

func getLengthBuf() []byte {
	return *(lengthBufPool.Get().(*[]byte))
}

func putLengthBuf(buf []byte) {
	lengthBufPool.Put(&buf)
}

// ReadFrame reads one length-prefixed frame from r: a 4-byte
// big-endian length followed by exactly that many payload bytes. A
// clean EOF before any byte of the length is read yields
// ClientDisconnected; EOF partway through the length or payload yields
// UnexpectedEof. A declared length exceeding maxBytes yields
// FrameTooLarge without consuming the payload.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	lenBuf := getLengthBuf()
	defer putLengthBuf(lenBuf)

	n, err := io.ReadFull(r, lenBuf)
	if err != nil {
		if n == 0 {
			return nil, classifyCleanEOF(err)
		}
		return nil, classifyPartialEOF(err)
	}

	length := binary.BigEndian.Uint32(lenBuf)
	if maxBytes >= 0 && int(length) > maxBytes {
		return nil, newErr(KindFrameTooLarge, "", nil)
	}

	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, classifyPartialEOF(err)
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame: the 4-byte
// big-endian length followed by the payload. A payload longer than
// maxBytes fails with FrameTooLarge before anything is written.
func WriteFrame(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes >= 0 && len(payload) > maxBytes {
		return newErr(KindFrameTooLarge, "", nil)
	}

	lenBuf := getLengthBuf()
	defer putLengthBuf(lenBuf)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))

	frame := make([]byte, 0, LengthPrefixSize+len(payload))
	frame = append(frame, lenBuf...)
	frame = append(frame, payload...)

	if _, err := w.Write(frame); err != nil {
		return classifyIOError(err)
	}
	return nil
}

// ValidateUTF8 returns InvalidUtf8 when payload is not valid UTF-8.
func ValidateUTF8(payload []byte) error {
	if !utf8.Valid(payload) {
		return newErr(KindInvalidUTF8, "", nil)
	}
	return nil
}

func classifyCleanEOF(err error) error {
	if err == io.EOF {
		return newErr(KindDisconnected, "", err)
	}
	return classifyIOError(err)
}

func classifyPartialEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return newErr(KindUnexpectedEOF, "", err)
	}
	return classifyIOError(err)
}

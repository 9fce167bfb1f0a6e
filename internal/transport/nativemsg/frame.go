// Package nativemsg is a Chrome native messaging host. The extension talks
// to the process over stdio: every message is a 4-byte little-endian length
// followed by that many bytes of UTF-8 JSON.
package nativemsg

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrame bounds inbound messages. Chrome caps host-bound messages at 4 GiB
// and extension-bound ones at 1 MiB; chat events are tiny.
const MaxFrame = 1 << 20

var (
	ErrClosed        = errors.New("nativemsg: channel closed")
	ErrFrameTooLarge = errors.New("nativemsg: frame too large")
	// ErrDecode marks a well-framed message whose JSON could not be decoded.
	// The stream stays usable.
	ErrDecode = errors.New("nativemsg: decode")
)

// Conn reads and writes frames. Writes are serialized; reads must come from
// one goroutine.
type Conn struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w}
}

// ReadFrame returns the next payload. A clean EOF before a header is ErrClosed.
func (c *Conn) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("nativemsg: read header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("nativemsg: read body: %w", err)
	}
	return buf, nil
}

// Read decodes the next frame as a Message.
func (c *Conn) Read() (Message, error) {
	b, err := c.ReadFrame()
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}

// Write encodes v as one frame.
func (c *Conn) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(b) > MaxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(b)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = c.w.Write(b)
	return err
}

package log

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// RawLogger records raw byte traffic (HID/BLE input reports, DSU
// datagrams) as single-line hex dumps tagged with a source label.
type RawLogger interface {
	Log(source string, data []byte)
}

type rawLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewRaw creates a RawLogger. A nil writer yields a no-op logger.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w}
}

func (r *rawLogger) Log(source string, data []byte) {
	if r.w == nil || len(data) == 0 {
		return
	}

	var hexbuf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for i, b := range data {
		if i > 0 {
			hexbuf.WriteByte(' ')
		}
		hexbuf.WriteByte(hexdigits[b>>4])
		hexbuf.WriteByte(hexdigits[b&0x0f])
	}

	line := fmt.Sprintf("%s %s: %d bytes, hex: %s\n",
		time.Now().Format("2006/01/02 15:04:05"),
		source,
		len(data),
		hexbuf.String())

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}

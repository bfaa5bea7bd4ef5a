// Package capture implements optional packet capture: frames
// observed on either direction of the tunnel (tap-in, sock-in, fabricated
// dup-ACKs) are written to zstd-compressed files that rotate by age.
//
// It is adapted from the source repository's saver package — specifically
// Connection.Rotate's file-age-driven rotation — collapsed from a
// per-TCP-flow Connection map down to the single long-lived session a
// tunnel maintains. The external zstd compression pipe (codec.go) is
// likewise adapted from the source repository's zstd package, folded in as
// private plumbing behind this package's own rotation and read-back calls
// instead of a standalone passthrough package.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cmanso/acktun/metrics"
)

// DefaultAgeLimit is how long a capture file stays open before rotation.
const DefaultAgeLimit = 10 * time.Minute

// Label identifies which leg of the tunnel a captured frame came from.
type Label byte

const (
	LabelTapIn Label = iota
	LabelSockIn
	LabelDupAck
)

// Writer rotates zstd-compressed capture files for one tunnel session.
type Writer struct {
	dir        string
	prefix     string
	ageLimit   time.Duration
	start      time.Time
	sequence   int
	expiration time.Time
	out        io.WriteCloser
}

// NewWriter returns a Writer that will create files under dir named with
// prefix, rotating every ageLimit.
func NewWriter(dir, prefix string, ageLimit time.Duration) *Writer {
	return &Writer{dir: dir, prefix: prefix, ageLimit: ageLimit}
}

func (w *Writer) rotate() error {
	if w.out != nil {
		w.out.Close()
	}
	now := time.Now()
	w.start = now
	name := fmt.Sprintf("%s/%s_%s_%05d.zst", w.dir, w.prefix, now.Format("20060102T150405.000"), w.sequence)
	out, err := newCompressedWriter(name)
	if err != nil {
		return err
	}
	w.out = out
	w.expiration = now.Add(w.ageLimit)
	w.sequence++
	metrics.CaptureFileCount.Inc()
	return nil
}

// WriteFrame appends one captured frame: a 1-byte label, a 4-byte
// big-endian length, and the frame data. It rotates to a fresh file first
// if none is open yet or the current one has aged out.
func (w *Writer) WriteFrame(label Label, data []byte) error {
	if w.out == nil || time.Now().After(w.expiration) {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	var hdr [5]byte
	hdr[0] = byte(label)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(data)))
	if _, err := w.out.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.out.Write(data)
	return err
}

// Close flushes and closes the currently open capture file, if any.
func (w *Writer) Close() error {
	if w.out == nil {
		return nil
	}
	err := w.out.Close()
	w.out = nil
	return err
}

// Record is one frame read back from a capture file by ReadAll.
type Record struct {
	Label Label
	Data  []byte
}

// ReadAll decodes every record written by a Writer from r, in order.
func ReadAll(r io.Reader) ([]Record, error) {
	var records []Record
	for {
		var hdr [5]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, err
		}
		n := binary.BigEndian.Uint32(hdr[1:])
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return records, err
		}
		records = append(records, Record{Label: Label(hdr[0]), Data: data})
	}
}

// Command acktunstats converts a capture file written by internal/capture
// into a CSV summary, one row per captured frame.
package main

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/cmanso/acktun/internal/capture"
	"github.com/cmanso/acktun/internal/ipv4"
	"github.com/cmanso/acktun/internal/tcpseg"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// row is one CSV line: one captured frame, decoded just enough to be
// useful for offline analysis (gocsv marshals exported fields by tag).
type row struct {
	Index     int    `csv:"index"`
	Label     string `csv:"label"`
	Bytes     int    `csv:"bytes"`
	Seq       uint32 `csv:"tcp_seq"`
	AckSeq    uint32 `csv:"tcp_ack,omitempty"`
	HasAckSeq bool   `csv:"is_ack"`
}

func labelName(l capture.Label) string {
	switch l {
	case capture.LabelTapIn:
		return "tap_in"
	case capture.LabelSockIn:
		return "sock_in"
	case capture.LabelDupAck:
		return "dup_ack"
	default:
		return "unknown"
	}
}

func toRows(records []capture.Record) []*row {
	rows := make([]*row, 0, len(records))
	for i, rec := range records {
		r := &row{Index: i, Label: labelName(rec.Label), Bytes: len(rec.Data)}
		if len(rec.Data) >= ipv4.HeaderLen+tcpseg.HeaderLen {
			r.Seq = tcpseg.Seq(rec.Data)
			if ack, ok := tcpseg.AckSeq(rec.Data); ok {
				r.AckSeq = ack
				r.HasAckSeq = true
			}
		}
		rows = append(rows, r)
	}
	return rows
}

func toCSV(records []capture.Record, w io.Writer) error {
	return gocsv.Marshal(toRows(records), w)
}

// openFile either opens a file directly, or transparently decompresses it
// if it ends in .zst, mirroring the pack's csvtool convention.
func openFile(fn string) (io.ReadCloser, error) {
	if strings.HasSuffix(fn, ".zst") {
		return capture.OpenCompressed(fn)
	}
	return os.Open(fn)
}

func main() {
	args := os.Args[1:]
	if len(args) != 1 {
		log.Fatal("usage: acktunstats <capture-file>")
	}

	source, err := openFile(args[0])
	rtx.Must(err, "Could not open file %q", args[0])
	defer source.Close()

	records, err := capture.ReadAll(source)
	rtx.Must(err, "Could not read capture records")
	rtx.Must(toCSV(records, os.Stdout), "Could not convert capture to CSV")
}

package capture

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cmanso/acktun/metrics"
)

// counterValue reads the current value of a counter-type metric, the same
// way the pack's own saver_test.go inspects a counter's collected sample.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var mm dto.Metric
	if err := c.Write(&mm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ctr := mm.GetCounter()
	if ctr == nil {
		t.Fatal("metric has no Counter value")
	}
	return ctr.GetValue()
}

// requireZstd skips the test if the zstd binary isn't on PATH, matching the
// pack's convention for tests that shell out to the real compressor instead
// of mocking it.
func requireZstd(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("zstd"); err != nil {
		t.Skip("zstd binary not found in PATH")
	}
}

func TestWriteFrameRoundTripsThroughZstd(t *testing.T) {
	requireZstd(t)
	dir := t.TempDir()

	w := NewWriter(dir, "sess", time.Hour)
	if err := w.WriteFrame(LabelTapIn, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame(LabelDupAck, []byte("world!!")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "sess_*_00000.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("Glob = %v, %v, want exactly one capture file", matches, err)
	}

	r, err := OpenCompressed(matches[0])
	if err != nil {
		t.Fatalf("OpenCompressed: %v", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("decompress: %v", err)
	}

	records, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Label != LabelTapIn || string(records[0].Data) != "hello" {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Label != LabelDupAck || string(records[1].Data) != "world!!" {
		t.Errorf("records[1] = %+v", records[1])
	}
}

func TestWriteFrameRotatesOnAgeLimit(t *testing.T) {
	requireZstd(t)
	dir := t.TempDir()

	w := NewWriter(dir, "rot", time.Nanosecond)
	if err := w.WriteFrame(LabelTapIn, []byte("a")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := w.WriteFrame(LabelTapIn, []byte("b")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	w.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "rot_*.zst"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2 (one rotation between writes)", len(matches))
	}
}

func TestRotateIncrementsCaptureFileCount(t *testing.T) {
	requireZstd(t)
	dir := t.TempDir()
	before := counterValue(t, metrics.CaptureFileCount)

	w := NewWriter(dir, "ctr", time.Hour)
	if err := w.WriteFrame(LabelTapIn, []byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	w.Close()

	after := counterValue(t, metrics.CaptureFileCount)
	if after != before+1 {
		t.Errorf("CaptureFileCount = %v, want %v", after, before+1)
	}
}

func TestReadAllOnEmptyReaderReturnsNoRecords(t *testing.T) {
	records, err := ReadAll(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("len(records) = %d, want 0", len(records))
	}
}

package capture

import (
	"fmt"
	"os"
	"testing"
)

func TestNewCompressedWriterErrorOnOsPipe(t *testing.T) {
	orig := osPipe
	defer func() { osPipe = orig }()
	osPipe = func() (*os.File, *os.File, error) {
		return nil, nil, fmt.Errorf("synthetic pipe failure")
	}

	if _, err := newCompressedWriter(fmt.Sprintf("%s/whatever.zst", t.TempDir())); err == nil {
		t.Fatal("newCompressedWriter returned nil error, want the synthetic pipe failure")
	}
}

func TestNewCompressedWriterErrorOnUncreatableFile(t *testing.T) {
	if _, err := newCompressedWriter("/this/file/is/uncreateable"); err == nil {
		t.Fatal("newCompressedWriter returned nil error for an uncreatable path")
	}
}

func TestNewCompressedWriterZstdFailure(t *testing.T) {
	orig := zstdCommand
	defer func() { zstdCommand = orig }()
	zstdCommand = "/nonexistent/zstd-binary-for-testing"

	wc, err := newCompressedWriter(fmt.Sprintf("%s/whatever.zst", t.TempDir()))
	if err != nil {
		t.Fatalf("newCompressedWriter: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
}

func TestOpenCompressedErrorOnMissingFile(t *testing.T) {
	if _, err := OpenCompressed(fmt.Sprintf("%s/does-not-exist.zst", t.TempDir())); err == nil {
		t.Fatal("OpenCompressed returned nil error for a missing file")
	}
}

package capture

import (
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
)

// osPipe and zstdCommand are indirected for whitebox testing of failure
// paths without a real zstd binary.
var (
	osPipe      = os.Pipe
	zstdCommand = "zstd"
)

// waitingWriteCloser blocks Close until the background zstd process has
// finished draining its input pipe, so callers that rotate or exit right
// after Close can rely on the file being complete on disk.
type waitingWriteCloser struct {
	io.WriteCloser
	wg *sync.WaitGroup
}

func (w waitingWriteCloser) Close() error {
	if err := w.WriteCloser.Close(); err != nil {
		return err
	}
	w.wg.Wait()
	return nil
}

// newCompressedWriter returns a WriteCloser that pipes everything written
// to it through an external zstd process into filename. Writer.rotate uses
// this for every capture file it opens.
func newCompressedWriter(filename string) (io.WriteCloser, error) {
	var wg sync.WaitGroup
	wg.Add(1)

	pipeR, pipeW, err := osPipe()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(zstdCommand)
	cmd.Stdin = pipeR
	cmd.Stdout = f
	go func() {
		if err := cmd.Run(); err != nil {
			log.Println("capture: zstd compression failed for", filename, err)
		}
		pipeR.Close()
		wg.Done()
	}()
	return waitingWriteCloser{pipeW, &wg}, nil
}

// OpenCompressed opens a capture file written by newCompressedWriter,
// transparently decompressing it through an external zstd process. Unlike
// a test-only helper, a real caller (acktunstats) needs a real error back
// instead of a fatal exit if the file or the zstd binary can't be found.
func OpenCompressed(filename string) (io.ReadCloser, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, err
	}
	pipeR, pipeW, err := osPipe()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(zstdCommand, "-d", "-c", filename)
	cmd.Stdout = pipeW
	go func() {
		if err := cmd.Run(); err != nil {
			log.Println("capture: zstd decompression failed for", filename, err)
		}
		pipeW.Close()
	}()
	return pipeR, nil
}

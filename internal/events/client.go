package events

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"

	"github.com/m-lab/go/rtx"
)

// Filename is the path to the events socket a client should dial,
// overridable with a flag in programs that consume events (e.g. a capture
// inspector); the tunnel itself never reads its own events socket.
var Filename = flag.String("events.socket", "", "Unix-domain socket to dial for tunnel events")

// Handler receives decoded events as MustRun reads them off the socket.
type Handler interface {
	OnSpoof(SpoofEvent)
	OnQueue(QueueEvent)
}

// MustRun dials socket and feeds every decoded event to handler until ctx
// is canceled or the connection closes. It is named MustRun because, like
// the source program's client, any error other than a clean close is
// fatal: there is no sensible way for an event consumer to continue after
// losing its connection to an unexpected error.
func MustRun(ctx context.Context, socket string, handler Handler) {
	conn, err := net.Dial("unix", socket)
	rtx.Must(err, "Could not dial events socket %q", socket)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var ev envelope
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			log.Println("WARNING: could not unmarshal event line:", err)
			continue
		}
		switch ev.Type {
		case "spoof":
			if ev.Spoof != nil {
				handler.OnSpoof(*ev.Spoof)
			}
		case "queue":
			if ev.Queue != nil {
				handler.OnQueue(*ev.Queue)
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		rtx.Must(err, "events socket scan error")
	}
}

// Package events optionally exposes a Unix-domain JSONL socket on which
// operators can observe spoofing-episode and queue-overflow notifications
// without a debug flag. It supplements, but never replaces, the core's
// "no log to the peer" rule: this is a local diagnostic channel, never
// written to the tunnel's own TCP stream.
//
// The Server interface and null-object pattern are adapted from the source
// repository's eventsocket package. The delivery mechanism is not: that
// package fans a single shared channel out to every client from one
// notifyClients goroutine, which exists to decouple a collector emitting
// thousands of FlowEvents/second from slow subscribers. A tunnel emits at
// most a handful of spoof/queue events per RTT, and there is exactly one
// long-lived session, so each connected client instead gets its own
// bounded outbox and writer goroutine: EmitSpoof/EmitQueue fan out
// directly, and a client that can't keep up has events dropped for it
// specifically rather than contending with (or being shielded by) a
// server-wide queue.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cmanso/acktun/metrics"
)

// SpoofEvent reports one phase transition of a spoofing episode.
type SpoofEvent struct {
	Phase      string    `json:"phase"`
	TriggerSeq uint32    `json:"trigger_seq,omitempty"`
	Round      int       `json:"round,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// QueueEvent reports a notable queue occurrence, currently only overflow.
type QueueEvent struct {
	Queue     string    `json:"queue"`
	Kind      string    `json:"kind"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// KindOverflow is the only QueueEvent.Kind value emitted today.
const KindOverflow = "overflow"

// envelope is the single JSON type written to the socket, one per line.
// Exactly one of Spoof or Queue is set.
type envelope struct {
	Type  string      `json:"type"`
	Spoof *SpoofEvent `json:"spoof,omitempty"`
	Queue *QueueEvent `json:"queue,omitempty"`
}

// Server serves spoof/queue events over a Unix domain socket to any number
// of connected listeners. Construct one with New, or use NullServer if no
// events socket was configured.
type Server interface {
	Listen() error
	Serve(ctx context.Context) error
	EmitSpoof(SpoofEvent)
	EmitQueue(QueueEvent)
}

// outboxCapacity bounds how many unsent events accumulate for one client
// before further events are dropped for it rather than blocking the
// broadcaster (the tunnel's own event loop calls EmitSpoof, and
// must never stall on a client that stopped reading).
const outboxCapacity = 16

type server struct {
	filename string
	mutex    sync.Mutex
	clients  map[net.Conn]chan envelope
	listener net.Listener
}

// New makes a Server that serves clients on the provided Unix domain
// socket path.
func New(filename string) Server {
	return &server{
		filename: filename,
		clients:  make(map[net.Conn]chan envelope),
	}
}

// Listen binds the Unix domain socket. Connections will not succeed until
// Serve is also called. Removes any stale socket file left behind by an
// unclean shutdown.
func (s *server) Listen() error {
	os.Remove(s.filename)
	l, err := net.Listen("unix", s.filename)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Serve accepts clients until ctx is canceled, starting one writer
// goroutine per client. Call it in a goroutine, after Listen.
func (s *server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	var err error
	for {
		var conn net.Conn
		conn, err = s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			break
		}
		s.addClient(ctx, conn)
	}
	s.closeAllClients()
	return err
}

// addClient registers conn and starts the goroutine that drains its
// outbox onto the wire.
func (s *server) addClient(ctx context.Context, conn net.Conn) {
	outbox := make(chan envelope, outboxCapacity)
	s.mutex.Lock()
	s.clients[conn] = outbox
	s.mutex.Unlock()
	log.Println("events: client connected:", conn.RemoteAddr())
	go s.pump(ctx, conn, outbox)
}

// pump writes every envelope handed to outbox to conn, one JSON line each,
// until the connection fails or ctx is canceled, then deregisters conn.
func (s *server) pump(ctx context.Context, conn net.Conn, outbox chan envelope) {
	w := bufio.NewWriter(conn)
	for {
		select {
		case ev, ok := <-outbox:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Printf("WARNING: could not marshal event %+v: %v\n", ev, err)
				continue
			}
			b = append(b, '\n')
			if _, err := w.Write(b); err != nil || w.Flush() != nil {
				log.Println("events: client write failed, removing it:", conn.RemoteAddr())
				s.removeClient(conn)
				return
			}
		case <-ctx.Done():
			s.removeClient(conn)
			return
		}
	}
}

// removeClient deregisters conn and closes both its outbox and the
// connection itself. It is safe to call more than once for the same conn.
func (s *server) removeClient(conn net.Conn) {
	s.mutex.Lock()
	outbox, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
	}
	s.mutex.Unlock()
	if !ok {
		return
	}
	close(outbox)
	conn.Close()
}

func (s *server) closeAllClients() {
	s.mutex.Lock()
	clients := s.clients
	s.clients = make(map[net.Conn]chan envelope)
	s.mutex.Unlock()
	for conn, outbox := range clients {
		close(outbox)
		conn.Close()
	}
}

// broadcast hands ev to every connected client's outbox, dropping it for
// any client whose outbox is currently full instead of waiting.
func (s *server) broadcast(ev envelope) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for conn, outbox := range s.clients {
		select {
		case outbox <- ev:
		default:
			metrics.EventsDroppedTotal.Inc()
			log.Println("events: dropping event for slow client:", conn.RemoteAddr())
		}
	}
}

// EmitSpoof broadcasts ev to every connected client.
func (s *server) EmitSpoof(ev SpoofEvent) {
	s.broadcast(envelope{Type: "spoof", Spoof: &ev})
}

// EmitQueue broadcasts ev to every connected client.
func (s *server) EmitQueue(ev QueueEvent) {
	s.broadcast(envelope{Type: "queue", Queue: &ev})
}

type nullServer struct{}

func (nullServer) Listen() error               { return nil }
func (nullServer) Serve(context.Context) error { return nil }
func (nullServer) EmitSpoof(SpoofEvent)        {}
func (nullServer) EmitQueue(QueueEvent)        {}

// NullServer returns a Server that does nothing, so that code which may or
// may not have an events socket configured can hold a Server
// unconditionally, instead of checking for nil everywhere.
func NullServer() Server {
	return nullServer{}
}

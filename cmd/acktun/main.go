// Command acktun runs one side of a paced, ACK-spoofing TCP tunnel between
// a tap-style virtual interface and a remote peer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/cmanso/acktun/internal/capture"
	"github.com/cmanso/acktun/internal/events"
	"github.com/cmanso/acktun/internal/iface"
	"github.com/cmanso/acktun/internal/pacer"
	"github.com/cmanso/acktun/internal/session"
	"github.com/cmanso/acktun/internal/tunnel"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	ifName   = flag.String("iface", "", "tap/tun interface name; empty lets the kernel assign one")
	tap      = flag.Bool("tap", false, "use a layer-2 tap device instead of a layer-3 tun device")
	server   = flag.Bool("server", false, "listen for the peer instead of dialing it")
	remote   = flag.String("remote", "", "remote IP to dial in client mode")
	port     = flag.Int("port", 55555, "TCP port to dial or listen on")
	debug    = flag.Bool("debug", false, "log per-packet operational detail")
	interval = flag.Duration("pace-interval", pacer.DefaultInterval, "minimum spacing between outbound packets in one direction")

	promAddr    = flag.String("prom", ":9090", "Prometheus metrics export address and port")
	eventsPath  = flag.String("events.socket", "", "Unix-domain socket to serve spoof/queue events on; empty disables it")
	captureDir  = flag.String("capture.dir", "", "directory to write zstd-compressed frame captures to; empty disables capture")
	captureSpan = flag.Duration("capture.rotate", capture.DefaultAgeLimit, "how often a capture file rotates")

	ctx, cancel = context.WithCancel(context.Background())
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)
	defer cancel()

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Shutdown(ctx)

	tapFile, assignedName, err := iface.Open(*ifName, kindFromFlag(*tap))
	rtx.Must(err, "Could not allocate tap/tun device")
	defer tapFile.Close()
	log.Printf("allocated interface %s", assignedName)

	conn := dialOrListen()
	defer conn.Close()

	label, err := session.Label(conn)
	if err != nil {
		log.Printf("WARNING: could not compute session label: %v", err)
	}
	log.Printf("session %s", sessionLabel(label))

	evSrv := events.NullServer()
	if *eventsPath != "" {
		evSrv = events.New(*eventsPath)
		rtx.Must(evSrv.Listen(), "Could not listen on events socket %s", *eventsPath)
		go func() {
			rtx.Must(evSrv.Serve(ctx), "events server exited")
		}()
	}

	core := tunnel.New(*interval, evSrv)
	core.Debug = *debug
	if *captureDir != "" {
		core.Capture = capture.NewWriter(*captureDir, sessionLabel(label), *captureSpan)
		defer core.Capture.Close()
	}

	sockFile, err := conn.File()
	rtx.Must(err, "Could not obtain socket file descriptor")
	defer sockFile.Close()

	log.Printf("tunnel starting: tap=%s remote=%v server=%v", assignedName, *remote, *server)
	err = core.Run(ctx, tapFile, int(tapFile.Fd()), conn, int(sockFile.Fd()))
	if err != nil && ctx.Err() == nil {
		log.Fatalf("tunnel exited: %v", err)
	}
}

func kindFromFlag(isTap bool) iface.Kind {
	if isTap {
		return iface.TAP
	}
	return iface.TUN
}

func dialOrListen() *net.TCPConn {
	addr := fmt.Sprintf(":%d", *port)
	if *server {
		l, err := net.Listen("tcp", addr)
		rtx.Must(err, "Could not listen on %s", addr)
		defer l.Close()
		conn, err := l.Accept()
		rtx.Must(err, "Could not accept a peer connection")
		return conn.(*net.TCPConn)
	}
	rtx.Must(requireRemote(), "-remote is required in client mode")
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", *remote, *port))
	rtx.Must(err, "Could not dial remote %s:%d", *remote, *port)
	return conn.(*net.TCPConn)
}

func requireRemote() error {
	if *remote == "" {
		return fmt.Errorf("-remote is required in client mode")
	}
	return nil
}

func sessionLabel(id string) string {
	if id == "" {
		return "acktun"
	}
	return id
}

package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/veyon-go/rfbengine/internal/engine"
	"github.com/veyon-go/rfbengine/internal/external"
	"github.com/veyon-go/rfbengine/internal/quality"
	"github.com/veyon-go/rfbengine/internal/rfblog"
)

var (
	targetAddr = flag.String("a", "", "Target RFB server [address:port], port defaults to 5900 unless specified")

	proxyAddr = flag.String("proxy", "", "Dial through a proxy, e.g. \"socks5://127.0.0.1:1080\". If empty, no proxy is used")

	noVNC                   = flag.Bool("novnc", false, "Tunnel through a noVNC/websockify WebSocket endpoint instead of a raw TCP RFB port")
	noVNCWss                = flag.Bool("novnc-wss", false, "Use wss:// instead of ws:// for the noVNC tunnel")
	noVNCPath               = flag.String("novnc-path", "", "Path component of the noVNC WebSocket URL")
	noVNCInsecureSkipVerify = flag.Bool("novnc-insecure-skip-verify", false, "Skip TLS certificate verification for -novnc-wss (only for trusted test endpoints)")

	preset = flag.String("quality", "default", "Quality preset [default, screenshot, remote-control, thumbnail]")

	token    = flag.String("token", "", "Shared secret for Veyon token authentication, if the server offers it")
	username = flag.String("logon-user", "", "Username for Veyon logon authentication, if the server offers it")
	password = flag.String("logon-pass", "", "Password for Veyon logon authentication, if the server offers it")

	updateInterval = flag.Duration("update-interval", 200*time.Millisecond, "Pause between framebuffer update requests once connected")
	verbose        = flag.Bool("v", false, "Enable debug-level logging")
)

func presetFromFlag(name string) (quality.Preset, error) {
	switch name {
	case "default":
		return quality.Default, nil
	case "screenshot":
		return quality.Screenshot, nil
	case "remote-control":
		return quality.RemoteControl, nil
	case "thumbnail":
		return quality.Thumbnail, nil
	default:
		return quality.Default, fmt.Errorf("unrecognized quality preset %q", name)
	}
}

func usage(exitCode int) {
	flag.Usage()
	os.Exit(exitCode)
}

// printObserver logs engine.Connection state transitions through pterm,
// mirroring VeyonVncConnection's Qt signal consumers for a terminal audience.
// It holds a pointer to the variable that will hold the Connection rather
// than the Connection itself, since the observer is wired in via an Option
// evaluated inside engine.New, before New has returned the *Connection it
// will end up observing.
type printObserver struct {
	connRef **engine.Connection
}

func (o printObserver) conn() *engine.Connection { return *o.connRef }

func (o printObserver) ImageUpdated(x, y, w, h int) {}

func (o printObserver) FramebufferSizeChanged(w, h int) {
	pterm.Info.Printf("framebuffer allocated: %dx%d\n", w, h)
}

func (o printObserver) FramebufferUpdateComplete() {}

func (o printObserver) CursorPosChanged(x, y int) {}

func (o printObserver) CursorShapeUpdated(rgba []byte, w, h, hotX, hotY int) {
	pterm.Info.Printf("cursor shape updated: %dx%d hotspot (%d,%d)\n", w, h, hotX, hotY)
}

func (o printObserver) GotCut(text string) {
	pterm.Info.Printf("clipboard text received (%d bytes)\n", len(text))
}

func (o printObserver) StateChanged() {
	switch o.conn().State() {
	case engine.Connected:
		pterm.Success.Println("connected")
	case engine.Connecting:
		pterm.Info.Println("connecting...")
	case engine.HostOffline:
		pterm.Error.Println("host offline")
	case engine.ServiceUnreachable:
		pterm.Error.Println("host reachable, RFB service unreachable")
	case engine.AuthenticationFailed:
		pterm.Error.Println("authentication failed")
	case engine.ConnectionFailed:
		pterm.Error.Println("connection failed")
	case engine.Disconnected:
		pterm.Warning.Println("disconnected")
	}
}

func (o printObserver) NewClient() {
	pterm.Success.Println("handshake complete, new client established")
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "USAGE: %s [OPTION]...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// PTerm ANSI formatting can persist after ctrl+c; hook the interrupt and flush.
	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		<-signalChan
		fmt.Print("\033[0m")
		os.Exit(0)
	}()

	if *targetAddr == "" {
		pterm.Info.Printf("Provide an RFB server address and port with the `-a` flag (e.g. \"192.168.0.134\", \"10.13.33.37:5901\")\nSee further usage below\n")
		fmt.Println()
		usage(1)
	}

	presetVal, err := presetFromFlag(*preset)
	if err != nil {
		pterm.Error.Printf("invalid value for -quality: %s\n", err)
		usage(1)
	}

	host, portStr, err := net.SplitHostPort(*targetAddr)
	if err != nil {
		host, portStr = *targetAddr, "5900"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		pterm.Error.Printf("failed to parse port in -a: %s\n", err)
		os.Exit(1)
	}

	dialHost, dialPort := host, port
	if *proxyAddr != "" || *noVNC {
		tunnel, err := startTunnel(net.JoinHostPort(host, strconv.Itoa(port)), *proxyAddr, *noVNC, *noVNCWss, *noVNCInsecureSkipVerify, *noVNCPath)
		if err != nil {
			pterm.Error.Printf("failed to start local transport bridge: %s\n", err)
			os.Exit(1)
		}
		defer tunnel.Close()
		dialHost, dialPort = tunnel.HostPort()
		pterm.Info.Printf("transport bridge listening on %s:%d, tunneling to %s\n", dialHost, dialPort, *targetAddr)
	}

	logger := rfblog.Logger(rfblog.NoOpLogger{})
	if *verbose {
		logger = rfblog.NewStandardLogger()
	}

	var conn *engine.Connection
	conn = engine.New(dialHost, dialPort,
		engine.WithQualityProfile(presetVal),
		engine.WithLogger(logger),
		engine.WithCredentialProvider(external.StaticCredentialProvider{
			UsernameValue: *username,
			PasswordValue: *password,
			TokenValue:    *token,
		}),
		engine.WithObserver(printObserver{connRef: &conn}),
	)
	conn.SetFramebufferUpdateInterval(*updateInterval)

	pterm.Info.Printf("ViNCe-style RFB engine demo\nconnecting to %s ...\n", *targetAddr)

	conn.Start()
	conn.Wait()
}

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/grd-project/grd/internal/capture"
	"github.com/grd-project/grd/internal/config"
	"github.com/grd-project/grd/internal/daemon"
	"github.com/grd-project/grd/internal/encoding"
	"github.com/grd-project/grd/internal/frame"
	"github.com/grd-project/grd/internal/gfx"
	"github.com/grd-project/grd/internal/input"
	"github.com/grd-project/grd/internal/input/x11"
	"github.com/grd-project/grd/internal/logging"
	"github.com/grd-project/grd/internal/secret"
	"github.com/grd-project/grd/internal/tlsconfig"
	"github.com/grd-project/grd/internal/tpkt"
)

var version = "1.0.0"

var (
	cfgFile  string
	bindAddr string
	port     int
	tlsCert  string
	tlsKey   string
	width    int
	height   int
	modeFlag string
	diffFlag int // tri-state: -1 unset, 0 false, 1 true
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "grd",
	Short: "grd - Remote Desktop Protocol server for Linux",
	Long:  `grd serves RDP sessions against a running X11 session, using RemoteFX or RAW surface encoding.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve one interactive RDP session against the local X session",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()
		initLogging(cfg)
		if err := runUserSession(cfg); err != nil {
			log.Error("user session exited with error", "error", err)
			os.Exit(1)
		}
	},
}

var systemDaemonCmd = &cobra.Command{
	Use:   "system-daemon",
	Short: "Run the privileged handover daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrExit()
		initLogging(cfg)
		if err := runSystemDaemon(cfg); err != nil {
			log.Error("system daemon exited with error", "error", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/grd/grd.ini)")
	rootCmd.PersistentFlags().StringVar(&bindAddr, "bind", "", "listen address, overrides server.bind_address")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "listen port, overrides server.port")
	rootCmd.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate path, overrides tls.certificate")
	rootCmd.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS private key path, overrides tls.private_key")
	rootCmd.PersistentFlags().IntVar(&width, "width", 0, "desktop width, overrides capture.width")
	rootCmd.PersistentFlags().IntVar(&height, "height", 0, "desktop height, overrides capture.height")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "encoding mode: auto, raw, or rfx, overrides encoding.mode")
	rootCmd.PersistentFlags().IntVar(&diffFlag, "diff", -1, "tile-hash dirty-rect detection: 0 disables, 1 enables, unset leaves config as-is")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(systemDaemonCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfigOrExit reads config, then applies CLI flag overrides on top
// of it (flags win over the file, mirroring the teacher's own layering).
func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if bindAddr != "" {
		cfg.Server.BindAddress = bindAddr
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if tlsCert != "" {
		cfg.TLS.Certificate = tlsCert
	}
	if tlsKey != "" {
		cfg.TLS.PrivateKey = tlsKey
	}
	if width != 0 {
		cfg.Capture.Width = width
	}
	if height != 0 {
		cfg.Capture.Height = height
	}
	if modeFlag != "" {
		cfg.Encoding.Mode = modeFlag
	}
	if diffFlag != -1 {
		cfg.Encoding.EnableDiff = diffFlag == 1
	}

	return cfg
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rw, err := logging.NewRotatingWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.Log.File, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.Log.Format, cfg.Log.Level, output)
	log = logging.L("main")
}

// runUserSession wires the local capture/encoding/input pipeline and
// accepts RDP connections on the configured listener. Terminating the
// wire protocol itself (TPKT/X.224/NLA/RDPGFX PDU parsing) is delegated
// to the external RDP library named by internal/rdplib.Session; this
// entry point peeks each connection's routing token for logging and
// hands the accepted socket to that library once a concrete binding is
// linked in.
func runUserSession(cfg *config.Config) error {
	capturer, err := capture.New(capture.Config{DisplayIndex: 0})
	if err != nil {
		return fmt.Errorf("open screen capturer: %w", err)
	}
	defer capturer.Close()

	w, h, err := capturer.Bounds()
	if err != nil {
		w, h = cfg.Capture.Width, cfg.Capture.Height
	}
	log.Info("screen capture ready", "width", w, "height", h)

	encMgr := encoding.New(encoding.Config{
		Mode:       encoding.ParseMode(cfg.Encoding.Mode),
		EnableDiff: cfg.Encoding.EnableDiff,
	}, true)

	pipeline := gfx.New(gfx.CapRemoteFX | gfx.CapAVC420 | gfx.CapProgressive)
	defer pipeline.Close()
	log.Info("graphics pipeline advertising caps", "caps", pipeline.AdvertiseCaps())

	injector := x11.New()
	dispatcher := input.NewDispatcher(injector, noopScancodeTable{})
	if err := dispatcher.Start(); err != nil {
		log.Warn("input injector unavailable", "error", err)
	} else {
		defer dispatcher.Stop()
		dispatcher.SetStreamResolution(w, h)
	}

	tlsCfg, err := tlsconfig.Load(cfg.TLS.Certificate, cfg.TLS.PrivateKey)
	if err != nil {
		return fmt.Errorf("load tls material: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.BindAddress, fmt.Sprintf("%d", cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	tlsLn := tls.NewListener(ln, tlsCfg)
	defer tlsLn.Close()
	log.Info("listening", "address", addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		tlsLn.Close()
	}()

	// Keep capturing and encoding even while no client is connected, so
	// the pipeline's dirty-rect/fallback state is warm the moment a
	// session binds in rather than starting cold on the first request.
	go runCaptureLoop(ctx, capturer, encMgr)

	for {
		conn, err := tlsLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		go func(c net.Conn) {
			defer c.Close()
			peekCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			info, err := tpkt.Peek(peekCtx, c)
			cancel()
			if err != nil {
				log.Warn("routing token peek failed", "peer", c.RemoteAddr(), "error", err)
				return
			}
			log.Info("accepted connection", "peer", c.RemoteAddr(),
				"routing_token", info.RoutingToken, "requested_rdstls", info.RequestedRDSTLS)
		}(conn)
	}
}

// runCaptureLoop periodically captures the desktop and runs it through
// the encoding manager, logging the resulting codec choice and payload
// size. Once a real session is wired in, its encoded frames would be
// submitted to the graphics pipeline instead of only logged here.
func runCaptureLoop(ctx context.Context, capturer capture.ScreenCapturer, encMgr *encoding.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var buf *frame.Frame
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := capturer.Capture(buf)
			if err != nil {
				log.Warn("capture failed", "error", err)
				continue
			}
			buf = f

			ef, err := encMgr.EncodeFrame(f, false, 0, frame.CodecRemoteFX)
			if err != nil {
				log.Debug("encode skipped", "error", err)
				continue
			}
			log.Debug("encoded frame", "codec", ef.Codec, "bytes", len(ef.Data), "keyframe", ef.IsKeyframe)
		}
	}
}

// noopScancodeTable is the scancode table used until a real
// internal/rdplib.Session is wired in; every lookup misses, so only the
// modifier scancodes internal/input's fallback keysym table covers are
// injected and every other key is dropped.
type noopScancodeTable struct{}

func (noopScancodeTable) Keycode(scancode uint16, extended bool) uint8 { return 0 }

// runSystemDaemon starts the privileged handover daemon: it owns the
// listening socket, peeks routing tokens, and brokers handovers to
// per-user worker processes over D-Bus.
func runSystemDaemon(cfg *config.Config) error {
	if !cfg.Service.System {
		return fmt.Errorf("service.system is false; refusing to start system-daemon")
	}

	certPEM, err := os.ReadFile(cfg.TLS.Certificate)
	if err != nil {
		return fmt.Errorf("read tls certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.TLS.PrivateKey)
	if err != nil {
		return fmt.Errorf("read tls private key: %w", err)
	}

	var sharedToken *secret.AuthToken
	if cfg.Service.HandoverTokenFile != "" {
		sharedToken, err = secret.LoadAuthToken(cfg.Service.HandoverTokenFile)
		if err != nil {
			return fmt.Errorf("load handover shared secret: %w", err)
		}
	}

	d := daemon.NewSystemDaemon(certPEM, keyPEM, sharedToken)

	conn, err := connectSystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	if err := d.Start(conn, cfg.Server.Port); err != nil {
		return fmt.Errorf("start daemon bus surface: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.BindAddress, fmt.Sprintf("%d", cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()
	log.Info("system daemon listening", "address", addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopReaper := make(chan struct{})
	go d.Registry.StartIdleReaper(stopReaper)
	defer close(stopReaper)

	return d.Serve(ctx, ln)
}

func connectSystemBus() (*dbus.Conn, error) {
	return dbus.ConnectSystemBus()
}

// Package main provides the CLI entry point for AuStream.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RishiIRL/austream/internal/audio"
	"github.com/RishiIRL/austream/internal/config"
	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/metrics"
	"github.com/RishiIRL/austream/internal/pairing"
	"github.com/RishiIRL/austream/internal/protocol"
	"github.com/RishiIRL/austream/internal/receiver"
	"github.com/RishiIRL/austream/internal/sender"
	"github.com/RishiIRL/austream/internal/sysinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "austream",
		Short: "AuStream - Synchronized LAN audio streaming",
		Long: `AuStream streams system audio from one host to receivers on the
same local network, keeping all receivers in tight temporal alignment.

Pairing uses an out-of-band IP and PIN shown on the sender; audio is
encrypted end to end with a key derived from the PIN.`,
		Version: sysinfo.Version,
	}

	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(recvCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when given, otherwise uses defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveMetrics exposes the Prometheus endpoint when enabled.
func serveMetrics(cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "metrics endpoint: %v\n", err)
		}
	}()
}

func sendCmd() *cobra.Command {
	var (
		configPath string
		port       int
		tone       bool
		toneFreq   float64
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Capture and distribute audio to receivers",
		Long: `Start a sender session: bind the audio and clock-sync ports,
generate a session PIN, and stream captured audio to every receiver
that authenticates.

OS audio capture is platform specific; --tone substitutes a generated
sine tone, which is also useful for latency testing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Sender.AudioPort = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			serveMetrics(cfg)

			var capture audio.Capture
			switch {
			case tone:
				// Effectively unbounded for an interactive session.
				capture = audio.NewToneCapture(toneFreq, 8000, 1<<30, audio.FrameDuration)
			default:
				return fmt.Errorf("no capture source on this platform; use --tone")
			}

			ctx, cancel := signalContext()
			defer cancel()

			session := sender.New(sender.Options{
				Config:  cfg,
				Capture: capture,
				Logger:  logger,
				Metrics: metrics.Default(),
			})
			if err := session.Start(ctx); err != nil {
				return err
			}
			defer session.Stop()

			fmt.Printf("Session PIN: %s\n", session.PIN())
			fmt.Printf("Pairing URL: %s\n", session.PairingURL())

			statusTicker := time.NewTicker(5 * time.Second)
			defer statusTicker.Stop()

			for {
				select {
				case <-ctx.Done():
					printSenderStats(session.Stats())
					return nil
				case <-session.Done():
					printSenderStats(session.Stats())
					return nil
				case <-statusTicker.C:
					stats := session.Stats()
					fmt.Printf("receivers=%d sent=%d (%s) gated=%d dropped=%d\n",
						session.ClientCount(), stats.Sent,
						humanize.Bytes(stats.Bytes), stats.GateDrops, stats.QueueDrops)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().IntVarP(&port, "port", "p", protocol.DefaultAudioPort, "audio/control UDP port")
	cmd.Flags().BoolVar(&tone, "tone", false, "stream a generated sine tone instead of captured audio")
	cmd.Flags().Float64Var(&toneFreq, "tone-freq", 440, "tone frequency in Hz")

	return cmd
}

func printSenderStats(stats sender.Stats) {
	fmt.Printf("session ended: sent=%d (%s) errors=%d gated=%d dropped=%d keepalives=%d\n",
		stats.Sent, humanize.Bytes(stats.Bytes), stats.SendErrors,
		stats.GateDrops, stats.QueueDrops, stats.Keepalives)
}

func recvCmd() *cobra.Command {
	var (
		configPath string
		pin        string
		volume     float64
		null       bool
	)

	cmd := &cobra.Command{
		Use:   "recv <austream://... | host[:port]>",
		Short: "Connect to a sender and play its stream",
		Long: `Authenticate against a sender and play the received stream.

The target can be a full austream:// pairing string (as shown on the
sender) or a bare host. When the pairing string carries no PIN and
--pin is not given, the PIN is prompted for interactively.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("volume") {
				cfg.Receiver.Volume = volume
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			target, err := pairing.Parse(args[0])
			if err != nil {
				return err
			}
			if pin != "" {
				target.PIN = pin
			}
			if target.PIN == "" {
				target.PIN, err = promptPIN()
				if err != nil {
					return err
				}
			}
			if !pairing.ValidPIN(target.PIN) {
				return fmt.Errorf("PIN must be six decimal digits")
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			serveMetrics(cfg)

			var sink audio.Sink
			switch {
			case null:
				sink = audio.NewMemorySink()
			default:
				return fmt.Errorf("no render sink on this platform; use --null")
			}
			defer sink.Close()

			ctx, cancel := signalContext()
			defer cancel()

			session := receiver.New(receiver.Options{
				Config:  cfg,
				Sink:    sink,
				Logger:  logger,
				Metrics: metrics.Default(),
			}, target)

			if err := session.Connect(ctx); err != nil {
				return err
			}
			defer session.Stop()

			fmt.Printf("Connected to %s:%d (buffer %d ms)\n",
				target.Host, target.Port, session.BufferMs())

			statusTicker := time.NewTicker(5 * time.Second)
			defer statusTicker.Stop()

			for {
				select {
				case <-ctx.Done():
					stats := session.Stats()
					fmt.Printf("session ended: received=%d lost=%d decrypt_errors=%d played=%d underruns=%d\n",
						stats.Received, stats.Lost, stats.DecryptErrors,
						stats.FramesPlayed, stats.Underruns)
					return nil
				case <-statusTicker.C:
					stats := session.Stats()
					fmt.Printf("received=%d lost=%d played=%d offset=%s rtt=%s\n",
						stats.Received, stats.Lost, stats.FramesPlayed,
						stats.ClockOffset.Round(time.Microsecond),
						stats.ClockRTT.Round(time.Microsecond))
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&pin, "pin", "", "session PIN (overrides the pairing string)")
	cmd.Flags().Float64Var(&volume, "volume", 1.0, "initial volume in [0, 1]")
	cmd.Flags().BoolVar(&null, "null", false, "discard audio instead of playing (testing)")

	return cmd
}

// promptPIN reads the PIN without echoing it.
func promptPIN() (string, error) {
	fmt.Fprint(os.Stderr, "PIN: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and host information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("austream %s\n", sysinfo.Version)
			fmt.Printf("host: %s\n", sysinfo.Hostname())
		},
	}
}

func probeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <host[:port]>",
		Short: "Check whether a sender is reachable",
		Long:  `Send a discovery probe and print the sender's hostname and round-trip time.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := pairing.Parse(args[0])
			if err != nil {
				return err
			}

			conn, err := net.Dial("udp4",
				net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port)))
			if err != nil {
				return fmt.Errorf("dial sender: %w", err)
			}
			defer conn.Close()

			start := time.Now()
			if _, err := conn.Write([]byte(protocol.MsgProbe)); err != nil {
				return fmt.Errorf("send probe: %w", err)
			}

			buf := make([]byte, 256)
			conn.SetReadDeadline(time.Now().Add(timeout))
			n, err := conn.Read(buf)
			if err != nil {
				return fmt.Errorf("no reply from %s:%d: %w", target.Host, target.Port, err)
			}
			rtt := time.Since(start)

			host, ok := protocol.ParseAlive(buf[:n])
			if !ok {
				return fmt.Errorf("unexpected reply %q", buf[:n])
			}

			fmt.Printf("%s is alive (host %q, rtt %s)\n",
				conn.RemoteAddr(), host, rtt.Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "reply timeout")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satindergrewal/phonoscope/internal/audio"
	"github.com/satindergrewal/phonoscope/internal/capture"
	"github.com/satindergrewal/phonoscope/internal/codec"
	"github.com/satindergrewal/phonoscope/internal/config"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"github.com/satindergrewal/phonoscope/internal/render"
	"github.com/satindergrewal/phonoscope/internal/server"
	"github.com/satindergrewal/phonoscope/internal/session"
	"github.com/satindergrewal/phonoscope/internal/signalpath"
	"github.com/satindergrewal/phonoscope/internal/stream"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string

	recordDevice   string
	recordFilter   string
	recordDuration time.Duration
	recordOut      string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "phonoscope",
	Short:         "Auscultation recorder",
	Long:          `phonoscope - captures heart and lung sounds, draws a live phonocardiogram trace and saves exact 16-bit WAV recordings`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from a device straight to a WAV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return record()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("phonoscope v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/phonoscope/phonoscope.yaml)")

	recordCmd.Flags().StringVar(&recordDevice, "device", "", "device ID (see 'phonoscope devices'); defaults to the configured device")
	recordCmd.Flags().StringVar(&recordFilter, "filter", "", "pre-filter: heart, lungs or none; defaults to the configured mode")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 10*time.Second, "recording length; Ctrl-C stops early")
	recordCmd.Flags().StringVar(&recordOut, "out", "", "output file; defaults to the configured output name")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	return cfg, nil
}

// openBackends returns the synthetic inputs plus PortAudio hardware when it
// can be initialised. The returned func releases PortAudio.
func openBackends(cfg *config.Config) (capture.Multi, func()) {
	backends := capture.Multi{capture.NewSynthetic(cfg.SampleRate, cfg.Channels)}
	pa, err := capture.OpenPortAudio(cfg.SampleRate, cfg.Channels, audio.FrameSizeFor(cfg.SampleRate))
	if err != nil {
		log.Warn("portaudio unavailable, synthetic inputs only", logging.KeyError, err)
		return backends, func() {}
	}
	return append(backends, pa), func() { pa.Close() }
}

func newSession(cfg *config.Config, acq capture.Acquirer, renderer *render.Renderer, monitor func([]float32)) (*session.Session, error) {
	c, err := codec.New(cfg.Codec, cfg.OpusBitrate, cfg.ChunkInterval)
	if err != nil {
		return nil, err
	}
	s := session.New(acq, c, renderer, session.Options{
		Path: signalpath.Options{
			WindowSize: cfg.AnalysisWindow,
			Smoothing:  cfg.Smoothing,
			BlockSize:  audio.FrameSizeFor(cfg.SampleRate),
			Monitor:    monitor,
		},
		CanvasSize: render.Size{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight},
	})
	s.ConfigureFilter(cfg.FilterMode)
	return s, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backends, release := openBackends(cfg)
	defer release()

	renderer := render.New(render.Size{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight}, cfg.FrameRate)
	strokes := stream.NewBroadcaster[render.Stroke](stream.TraceBuffer)
	renderer.OnStroke(strokes.Publish)

	frames := stream.NewBroadcaster[[]int16](stream.MonitorBuffer)
	monitor := stream.NewMonitor(frames, cfg.SampleRate, cfg.Channels)
	webrtcHandler := stream.NewWebRTCHandler(frames, cfg.SampleRate, cfg.OpusBitrate)
	defer webrtcHandler.Close()

	sess, err := newSession(cfg, backends, renderer, monitor.Write)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Port:          cfg.Port,
		OutputName:    cfg.OutputName,
		DefaultDevice: cfg.Device,
	}, server.Deps{
		Session:  sess,
		Devices:  backends,
		Renderer: renderer,
		Trace:    stream.NewTraceHandler(strokes),
		Monitor:  webrtcHandler,
	})

	log.Info("phonoscope starting", "version", version, "port", cfg.Port, "codec", cfg.Codec, "filter", cfg.FilterMode)
	return srv.Run(ctx)
}

func listDevices() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	backends, release := openBackends(cfg)
	defer release()

	devs, err := backends.Devices()
	if err != nil {
		return err
	}
	for _, d := range devs {
		fmt.Printf("%-40s %s\n", d.ID, d.Label)
	}
	return nil
}

func record() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if recordDevice == "" {
		recordDevice = cfg.Device
	}
	if recordFilter == "" {
		recordFilter = cfg.FilterMode
	}
	if recordOut == "" {
		recordOut = cfg.OutputName
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backends, release := openBackends(cfg)
	defer release()

	sess, err := newSession(cfg, backends, nil, nil)
	if err != nil {
		return err
	}
	sess.ConfigureFilter(recordFilter)

	if err := sess.Start(ctx, recordDevice); err != nil {
		return err
	}
	fmt.Printf("Recording from %s for %s...\n", recordDevice, recordDuration)

	select {
	case <-time.After(recordDuration):
	case <-ctx.Done():
		fmt.Println("\nStopping early...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := sess.Stop(stopCtx); err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}

	f, ok := sess.Output()
	if !ok {
		return fmt.Errorf("no recording produced")
	}
	if err := os.WriteFile(recordOut, f.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", recordOut, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", recordOut, f.Len())
	return nil
}

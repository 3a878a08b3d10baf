// Proxtool encodes payloads into WAV recordings, decodes recordings back into
// payloads and runs an in-process emit/listen exchange over a simulated
// acoustic medium.
//
//	proxtool encode -text CHAL-42 -o chal.wav
//	proxtool decode chal.wav
//	proxtool loopback -text CHAL-42 -noise 0.01
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/skypro1111/proximity-audio/internal/audio"
	"github.com/skypro1111/proximity-audio/internal/config"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/modem"
	"github.com/skypro1111/proximity-audio/internal/session"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encode":
		err = runEncode(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "loopback":
		err = runLoopback(ctx, os.Args[2:])
	case "version":
		pterm.Info.Println(fmt.Sprintf("proxtool v%s", version))
	case "-h", "-help", "--help", "help":
		usage()
	default:
		pterm.Error.Println(fmt.Sprintf("unknown command %q", os.Args[1]))
		usage()
		os.Exit(2)
	}

	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func usage() {
	pterm.Println("Usage: proxtool <command> [flags]")
	pterm.Println()
	pterm.Println("Commands:")
	pterm.Println("  encode    render a payload into a WAV recording")
	pterm.Println("  decode    decode a payload from a WAV recording")
	pterm.Println("  loopback  emit on one simulated device while another listens")
	pterm.Println("  version   print the version")
}

// commonFlags holds the flags every command accepts
type commonFlags struct {
	configPath string
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file (defaults are used when empty)")
	fs.BoolVar(&c.debug, "debug", false, "Enable debug logging")
}

// load returns the configuration and a console logger
func (c *commonFlags) load() (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, nil, err
		}
	}

	if c.debug {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	} else {
		pterm.DefaultLogger.Level = pterm.LogLevelWarn
	}
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05.000"

	return cfg, slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger)), nil
}

// payloadFlags selects the payload from text or hex
type payloadFlags struct {
	text string
	hex  string
}

func (p *payloadFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.text, "text", "", "Payload as UTF-8 text")
	fs.StringVar(&p.hex, "hex", "", "Payload as hex bytes")
}

func (p *payloadFlags) payload() ([]byte, error) {
	switch {
	case p.text != "" && p.hex != "":
		return nil, errors.New("use either -text or -hex, not both")
	case p.hex != "":
		b, err := hex.DecodeString(p.hex)
		if err != nil {
			return nil, fmt.Errorf("invalid -hex payload: %w", err)
		}
		return b, nil
	case p.text != "":
		return []byte(p.text), nil
	default:
		return nil, errors.New("a payload is required (-text or -hex)")
	}
}

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	var common commonFlags
	var pf payloadFlags
	common.register(fs)
	pf.register(fs)
	output := fs.String("o", "frame.wav", "Output WAV path")
	fs.Parse(args)

	cfg, _, err := common.load()
	if err != nil {
		return err
	}

	payload, err := pf.payload()
	if err != nil {
		return err
	}

	modemCfg := cfg.Modem.ToAudio()
	samples, err := audio.Modulate(modemCfg, payload)
	if err != nil {
		return err
	}

	f, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *output, err)
	}
	if err := audio.WriteWAV(f, samples, modemCfg.SampleRate); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}

	duration := time.Duration(len(samples)) * time.Second / time.Duration(modemCfg.SampleRate)
	pterm.Success.Println(fmt.Sprintf("wrote %d bytes as %v of audio to %s", len(payload), duration, *output))
	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: proxtool decode [flags] <file.wav>")
	}
	path := fs.Arg(0)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	samples, rate, err := audio.ReadWAV(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if rate != cfg.Modem.SampleRate {
		return fmt.Errorf("%s is recorded at %d Hz, modem expects %d Hz", path, rate, cfg.Modem.SampleRate)
	}

	rx, err := modem.NewReceiver(cfg.ToReceiver(), logger, nil)
	if err != nil {
		return err
	}

	res := rx.DecodeSamples(samples)
	printResult(res)
	if !res.OK() {
		return fmt.Errorf("decode failed: %w", res.Err)
	}
	return nil
}

func runLoopback(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loopback", flag.ExitOnError)
	var common commonFlags
	var pf payloadFlags
	common.register(fs)
	pf.register(fs)
	noise := fs.Float64("noise", 0.005, "Gaussian noise level on the medium")
	dropEvery := fs.Int("drop", 0, "Drop every Nth capture buffer (0 disables)")
	timeout := fs.Duration("timeout", 3*time.Second, "Listen timeout")
	fs.Parse(args)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	payload, err := pf.payload()
	if err != nil {
		return err
	}

	air, err := device.NewAir(device.AirConfig{
		SampleRate: cfg.Modem.SampleRate,
		NoiseLevel: *noise,
		DropEvery:  *dropEvery,
		Retention:  cfg.Device.Air.GetRetention(),
		Seed:       cfg.Device.Air.Seed,
	})
	if err != nil {
		return err
	}

	emitter, err := session.NewController(air.Endpoint("emitter"), cfg.ToSession(), logger, nil)
	if err != nil {
		return err
	}
	defer emitter.Close()

	listener, err := session.NewController(air.Endpoint("listener"), cfg.ToSession(), logger, nil)
	if err != nil {
		return err
	}
	defer listener.Close()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("listening for up to %v", *timeout))

	results := make(chan modem.DecodeResult, 1)
	go func() {
		results <- listener.ListenForResponse(ctx, *timeout)
	}()

	for listener.State() != session.StateListening {
		select {
		case res := <-results:
			spinner.Fail("listener ended before playback")
			printResult(res)
			return fmt.Errorf("listen failed: %s", res.Outcome)
		case <-time.After(5 * time.Millisecond):
		}
	}

	spinner.UpdateText(fmt.Sprintf("emitting %d bytes", len(payload)))
	if err := emitter.Emit(ctx, payload); err != nil {
		listener.Stop()
		<-results
		spinner.Fail("emit failed")
		return err
	}

	spinner.UpdateText("waiting for the listener")
	res := <-results
	if res.OK() {
		spinner.Success(fmt.Sprintf("received after %v", res.Elapsed.Round(time.Millisecond)))
	} else {
		spinner.Fail(res.Outcome.String())
	}

	printResult(res)
	if !res.OK() {
		return fmt.Errorf("loopback failed: %s", res.Outcome)
	}
	return nil
}

// printResult renders a decode result as a table
func printResult(res modem.DecodeResult) {
	payload := "-"
	if res.OK() {
		payload = hex.EncodeToString(res.Payload)
		if utf8.Valid(res.Payload) {
			payload = fmt.Sprintf("%q (%s)", res.Payload, payload)
		}
	}

	data := pterm.TableData{
		{"Field", "Value"},
		{"Outcome", res.Outcome.String()},
		{"Payload", payload},
		{"Elapsed", res.Elapsed.Round(time.Millisecond).String()},
		{"Blocks", fmt.Sprintf("%d (%d tone)", res.Stats.Blocks, res.Stats.ToneBlocks)},
		{"Symbols", fmt.Sprintf("%d", res.Stats.Symbols)},
		{"Frames started", fmt.Sprintf("%d", res.Stats.FramesStarted)},
		{"Decode failures", fmt.Sprintf("%d", res.Stats.DecodeFailures)},
		{"Dropped buffers", fmt.Sprintf("%d", res.Stats.DroppedBuffers)},
		{"Stalled frames", fmt.Sprintf("%d", res.Stats.StalledFrames)},
	}
	if res.Err != nil {
		data = append(data, []string{"Error", res.Error()})
	}

	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// Command h2dump replays a captured h2c byte stream through the frame codec
// and prints one log line per protocol event. The input is the raw bytes of
// one connection direction, e.g. the client half of a cleartext HTTP/2
// exchange captured off the wire.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/ariel42/h2-sans-io/http2"
	"github.com/ariel42/h2-sans-io/internal/config"
)

var (
	configFilePath string
	chunkSize      int
)

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to a TOML codec configuration file (optional)")
	flag.IntVar(&chunkSize, "chunk", 4096, "Feed the stream to the codec in chunks of this many bytes")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: h2dump [-config file.toml] [-chunk n] <stream-file | ->")
		os.Exit(2)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg := config.Default()
	if configFilePath != "" {
		var err error
		cfg, err = config.Load(configFilePath)
		if err != nil {
			log.Fatal().Err(err).Msg("loading configuration")
		}
	}

	in := os.Stdin
	if name := flag.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			log.Fatal().Err(err).Msg("opening stream file")
		}
		defer f.Close()
		in = f
	}

	opts := cfg.Options()
	opts.Logger = &log
	codec := http2.NewCodec(opts)

	buf := make([]byte, chunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			events, err := codec.Process(buf[:n])
			for _, ev := range events {
				logEvent(log, ev)
			}
			if err != nil {
				os.Exit(1)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Fatal().Err(readErr).Msg("reading stream")
		}
	}
}

func logEvent(log zerolog.Logger, ev http2.Event) {
	switch e := ev.(type) {
	case http2.HeadersEvent:
		entry := log.Info().Uint32("stream_id", e.StreamID).Int("block_len", len(e.HeaderBlock)).Bool("end_stream", e.EndStream)
		for _, hf := range e.Fields {
			entry = entry.Str(hf.Name, hf.Value)
		}
		entry.Msg("HEADERS")
	case http2.DataEvent:
		log.Info().Uint32("stream_id", e.StreamID).Int("len", len(e.Data)).Bool("end_stream", e.EndStream).Msg("DATA")
	case http2.SettingsEvent:
		entry := log.Info().Bool("ack", e.Ack)
		for _, s := range e.Settings {
			entry = entry.Uint32(s.ID.String(), s.Value)
		}
		entry.Msg("SETTINGS")
	case http2.RSTStreamEvent:
		log.Info().Uint32("stream_id", e.StreamID).Str("error_code", e.ErrorCode.String()).Msg("RST_STREAM")
	case http2.GoAwayEvent:
		log.Info().Uint32("last_stream_id", e.LastStreamID).Str("error_code", e.ErrorCode.String()).Bytes("debug", e.DebugData).Msg("GOAWAY")
	case http2.PingEvent:
		log.Info().Bool("ack", e.Ack).Hex("payload", e.Payload[:]).Msg("PING")
	case http2.WindowUpdateEvent:
		log.Info().Uint32("stream_id", e.StreamID).Uint32("increment", e.Increment).Msg("WINDOW_UPDATE")
	case http2.StreamErrorEvent:
		log.Warn().Uint32("stream_id", e.StreamID).Str("code", e.Code.String()).Str("detail", e.Message).Msg("stream error")
	case http2.ConnectionErrorEvent:
		log.Error().Str("code", e.Code.String()).Str("detail", e.Debug).Msg("connection error")
	}
}

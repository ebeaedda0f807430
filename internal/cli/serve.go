package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamsub/internal/config"
	"streamsub/internal/httpapi"
	"streamsub/internal/streamer"
	"streamsub/pkg/types"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	var (
		fromStdin bool
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo stream producer",
		Long: "Serves GET /stream/{name} as text/event-stream and POST /stream/{name} to publish.\n" +
			"The default stream is fed with stdin lines (--stdin) or a counter every --interval.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve(v)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			var feed io.Reader
			if fromStdin {
				feed = cmd.InOrStdin()
			}
			return runServe(cmd.Context(), cfg, feed, interval, log)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default :5000)")
	f.String("stream", "", "Name of the stream fed by this process (default accelerometer)")
	f.Int("retry-hint-ms", 0, "Reconnection delay suggested to clients (0 = none)")
	f.StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable); enables CORS")
	f.Int64("max-body-bytes", 0, "Largest accepted publish body (default 1MiB)")
	f.Int("max-streams", 0, "Most streams publishing may create (default 64)")
	f.BoolVar(&fromStdin, "stdin", false, "Publish each stdin line instead of a counter")
	f.DurationVar(&interval, "interval", time.Second, "Counter publish interval")
	_ = v.BindPFlags(f)
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, feed io.Reader, interval time.Duration, log zerolog.Logger) error {
	reg := streamer.NewRegistry(
		streamer.WithRetry(time.Duration(cfg.RetryHintMS)*time.Millisecond),
		streamer.WithMaxStreams(cfg.MaxStreams),
		streamer.WithLogger(log),
	)
	reg.Hub(cfg.Stream)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins, nil, nil)
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(reg)}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("stream", cfg.Stream).Msg("producer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	go publishFeed(ctx, reg, cfg.Stream, feed, interval, log)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	reg.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Warn().Err(serr).Msg("graceful shutdown")
	}
	return err
}

// publishFeed publishes stdin lines when feed is set, otherwise a counter.
func publishFeed(ctx context.Context, reg *streamer.Registry, stream string, feed io.Reader, interval time.Duration, log zerolog.Logger) {
	publish := func(data string) bool {
		if _, err := reg.Publish(stream, types.PublishRequest{Data: data}); err != nil {
			log.Debug().Err(err).Msg("publish stopped")
			return false
		}
		return true
	}
	if feed != nil {
		sc := bufio.NewScanner(feed)
		for sc.Scan() {
			if ctx.Err() != nil || !publish(sc.Text()) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.Error().Err(err).Msg("reading stdin")
		}
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !publish(strconv.Itoa(n)) {
				return
			}
		}
	}
}

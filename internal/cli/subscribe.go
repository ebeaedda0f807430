package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamsub/internal/config"
	"streamsub/internal/console"
	"streamsub/internal/eventsource"
	"streamsub/internal/httpapi"
	"streamsub/internal/metrics"
	"streamsub/internal/subscriber"
)

func newSubscribeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscribe [endpoint]",
		Short:   "Print every event of a stream to stdout",
		Example: "  streamsub subscribe http://localhost:5000/stream/accelerometer",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("endpoint", args[0])
			}
			cfg, err := resolve(v)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			return runSubscribe(cmd.Context(), cfg, cmd.OutOrStdout(), log)
		},
	}
	f := cmd.Flags()
	f.String("endpoint", "", "Stream URL (default "+config.DefaultEndpoint+")")
	f.StringSlice("header", nil, "Extra request header as key=value (repeatable)")
	f.Int("max-retries", 0, "Give up after this many failed reconnections (0 = never)")
	f.Int("retry-initial-ms", 0, "First reconnection delay in ms (default 1000)")
	f.Int("retry-max-ms", 0, "Reconnection delay cap in ms (default 30000)")
	f.String("metrics-addr", "", "Serve /metrics, /healthz and /readyz on this address")
	f.Bool("color", false, "Highlight OPEN!/ERROR! lines")
	_ = v.BindPFlags(f)
	return cmd
}

// runSubscribe blocks until ctx is done or the stream closes for good. A
// closed stream is not an error.
func runSubscribe(ctx context.Context, cfg config.Config, out io.Writer, log zerolog.Logger) error {
	header := http.Header{}
	for k, val := range cfg.Headers {
		header.Set(k, val)
	}
	dialer := &eventsource.HTTPDialer{
		Header:     header,
		Backoff:    cfg.Backoff(),
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	}
	sub := subscriber.New(subscriber.WithDialer(dialer), subscriber.WithLogger(log))
	console.Attach(sub, out, console.WithColor(cfg.Color), console.WithLogger(log))
	metrics.Instrument(sub)

	if cfg.MetricsAddr != "" {
		httpapi.SetLogger(log)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: httpapi.NewAdminMux(sub.Ready)}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin server")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info().Str("endpoint", cfg.Endpoint).Msg("subscribing")
	if err := sub.Start(cfg.Endpoint); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return sub.Close()
	case <-sub.Done():
		return nil
	}
}

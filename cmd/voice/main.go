package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshvoice/internal/adapters/capture"
	"github.com/dkeye/meshvoice/internal/adapters/rtc"
	sig "github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app/membership"
	"github.com/dkeye/meshvoice/internal/app/peer"
	"github.com/dkeye/meshvoice/internal/app/session"
	"github.com/dkeye/meshvoice/internal/app/vad"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	client, err := sig.Dial(ctx, cfg.Client.ServerURL, cfg.Client.Username, sig.ClientOptions{PingPeriod: cfg.PingPeriod})
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Client.ServerURL).Msg("cannot reach signaling server")
	}
	defer client.Close()
	self := client.Self()
	log.Info().Str("participant", string(self.ID)).Str("name", self.Name).Msg("connected")

	mic, err := capture.NewMicrophone()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot set up audio codecs")
	}
	received := rtc.NewPacketCounter()
	factory := rtc.NewFactory(mic.API(), self.ID, client, received)

	bus := events.NewBus()
	defer bus.Close()

	coord := membership.NewCoordinator(self.ID, client)
	if err := coord.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("cannot list channels")
	}

	ctrl := session.NewController(session.Deps{
		Self:            self.ID,
		Capturer:        mic,
		Membership:      client,
		Signals:         client,
		TransportConfig: client,
		Links:           factory.For,
		Bus:             bus,
		Coordinator:     coord,
	}, session.Config{
		VAD: vad.Config{
			Interval:    cfg.VAD.Interval,
			ThresholdDB: cfg.VAD.ThresholdDB,
			Bins:        cfg.VAD.Bins,
		},
		Peer: peer.Config{
			MaxRetries:        cfg.Peer.MaxRetries,
			RetryDelay:        cfg.Peer.RetryDelay,
			DisconnectTimeout: cfg.Peer.DisconnectTimeout,
			QualityInterval:   cfg.Quality.Interval,
		},
	})

	coordEvents, stopCoordEvents := bus.Subscribe(64, events.KindSpeakingState, events.KindPeerState)
	defer stopCoordEvents()
	go coord.Run(ctx, client.RosterEvents(), coordEvents)

	channel := domain.ChannelID(cfg.Client.Channel)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := events.NewRedisRelay(events.NewRedisBroker(rdb), bus, string(self.ID)).Run(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("speaking relay disabled")
		}
	}

	feed, stopFeed := ctrl.Events(64)
	defer stopFeed()

	if err := ctrl.JoinChannel(ctx, channel); err != nil {
		log.Fatal().Err(err).Str("channel", string(channel)).Msg("cannot join channel")
	}
	log.Info().Str("channel", string(channel)).Msg("joined")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-feed:
			if !ok {
				break loop
			}
			logEvent(ev)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ctrl.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("leave failed")
	}
	for pid, st := range received.Snapshot() {
		log.Info().Str("participant", string(pid)).Uint64("packets", st.Packets).Uint64("gaps", st.Gaps).Msg("received audio")
	}
	log.Info().Msg("bye")
}

func logEvent(ev events.Event) {
	l := log.With().Str("module", "voice").Str("event", string(ev.Kind())).Logger()
	switch e := ev.(type) {
	case events.SpeakingState:
		l.Info().Str("participant", string(e.ParticipantID)).Bool("speaking", e.IsSpeaking).Str("origin", e.Origin).Send()
	case events.QualityUpdate:
		l.Debug().Str("participant", string(e.ParticipantID)).Float64("quality", e.Quality).
			Dur("rtt", e.Stats.RoundTripTime).Float64("jitter", e.Stats.Jitter).Int64("lost", e.Stats.PacketsLost).Send()
	case events.PeerState:
		l.Info().Str("participant", string(e.ParticipantID)).Str("state", e.State.String()).Send()
	case events.Reconnected:
		l.Info().Str("participant", string(e.ParticipantID)).Send()
	case events.ReconnectionFailed:
		l.Warn().Err(e.Err).Str("participant", string(e.ParticipantID)).Send()
	case events.ConnectionFailed:
		l.Warn().Err(e.Err).Str("participant", string(e.ParticipantID)).Send()
	case events.ChannelJoined:
		l.Info().Str("channel", string(e.ChannelID)).Send()
	case events.ChannelLeft:
		l.Info().Str("channel", string(e.ChannelID)).Send()
	}
}

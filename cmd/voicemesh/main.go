package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	rendezvous "github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/media"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("voicemesh stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("voicemesh exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	self := domain.ParticipantID(cfg.UserID)
	loop := app.NewLoop(cfg.QueueSize)
	streams := media.NewStreams()
	notes := app.NewNotifications(0)

	nicknames := app.NewNicknameTable()
	if cfg.Nickname != "" {
		nicknames.Set(domain.Me, cfg.Nickname)
	}

	signals := &rendezvous.Client{
		URL:        cfg.SignalURL,
		Call:       cfg.Call,
		Self:       self,
		Nickname:   cfg.Nickname,
		Loop:       loop,
		Limiter:    rendezvous.NewJoinLimiter(5, 30*time.Second),
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
		QueueSize:  cfg.QueueSize,
	}

	pionLevel, err := zerolog.ParseLevel(cfg.PionLogLevel)
	if err != nil {
		pionLevel = zerolog.WarnLevel
	}
	api, err := rtc.NewAPI(pionLevel)
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}

	o := &orch.Orchestrator{
		Identity:   app.NewIdentity(self),
		Sessions:   app.NewRegistry(),
		Rooms:      app.NewRoomTable(domain.RoomName(cfg.Room)),
		Nicknames:  nicknames,
		Chat:       app.NewChatLog(cfg.ChatHistory),
		Streams:    streams,
		Notify:     notes,
		Signals:    signals,
		Transports: &rtc.Factory{MuteAfter: cfg.MuteAfter, Meters: streams, API: api},
		Policy:     app.PolicyByName(cfg.SendPolicy),
		Files:      &app.FileLoader{MaxSize: cfg.MaxFileSize},
		Loop:       loop,
		ICEServers: cfg.WebRTCServers(),
	}
	signals.Peers = o

	if cfg.PublishAudio {
		stream, err := localAudio(self)
		if err != nil {
			return err
		}
		o.SetLocalStream(stream)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o, router.Views{Streams: streams, Notifications: notes}),
	}

	// The loop outlives the other workers so sessions can be closed on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = loop.Run(loopCtx)
		return nil
	})
	g.Go(func() error {
		return signals.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("voicemesh UI started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		_ = signals.HangUp()

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		if err := loop.Call(closeCtx, o.Close); err != nil {
			log.Debug().Err(err).Msg("close sessions")
		}
		stopLoop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}

// localAudio creates the outgoing audio track. Capture and encoding are
// left to whatever writes samples into it.
func localAudio(self domain.ParticipantID) (*core.LocalStream, error) {
	streamID := "voicemesh-" + string(self)
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("local audio track: %w", err)
	}
	return &core.LocalStream{ID: streamID, Tracks: []webrtc.TrackLocal{track}}, nil
}

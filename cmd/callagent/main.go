package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ringcall/internal/call"
	"github.com/dkeye/ringcall/internal/config"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/media"
	"github.com/dkeye/ringcall/internal/rtc"
	sig "github.com/dkeye/ringcall/internal/signal"
	"github.com/dkeye/ringcall/internal/store"
)

const recordQueue = 64

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, v, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)
	config.Watch(v)

	self, err := domain.NewProfile(domain.PartyID(cfg.Agent.SelfID), cfg.Agent.Username)
	if err != nil {
		log.Fatal().Err(err).Msg("agent.self_id is required")
	}
	self.FullName = cfg.Agent.FullName

	bus, closeBus, err := openBus(ctx, cfg, *self)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Bus.Driver).Msg("open bus")
	}
	defer closeBus()

	gateway, err := media.NewGateway(cfg.Media.Driver, media.Options{
		MaxWidth:     cfg.Media.MaxWidth,
		MaxHeight:    cfg.Media.MaxHeight,
		VideoBitRate: cfg.Media.VideoBitRate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("media gateway")
	}

	records, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer records.Close()
	recorder := store.NewAsync(records, recordQueue)
	defer recorder.Close()

	adapter := sig.NewAdapter(bus, self.ID)
	coord := call.New(call.Options{
		Self:   *self,
		Signal: adapter,
		Media:  gateway,
		Engine: rtc.NewFactory(rtc.Config{
			ICEServers:          cfg.Call.ICEServers,
			Trickle:             cfg.Call.Trickle,
			DisconnectedTimeout: cfg.Call.DisconnectedTimeout,
			FailedTimeout:       cfg.Call.FailedTimeout,
			KeepAliveInterval:   cfg.Call.KeepAliveInterval,
		}),
		Recorder:           recorder,
		NegotiationTimeout: cfg.Call.NegotiationTimeout,
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = coord.Run(runCtx)
	}()
	// Run must finish its hangup before the bus goes away.
	defer func() {
		stopRun()
		<-stopped
	}()

	listener := call.NewListener(adapter, coord)
	if err := listener.Start(); err != nil {
		log.Fatal().Err(err).Msg("start listener")
	}
	defer listener.Stop()

	statuses, unwatch := coord.Watch()
	defer unwatch()
	go printStatuses(statuses, coord, cfg.Agent.AutoAnswer)

	log.Info().Str("self", string(self.ID)).Str("bus", cfg.Bus.Driver).Msg("callagent ready")
	fmt.Println("commands: call <id> [audio|video], answer, reject, hangup, mute, video, speaker, status, quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(coord, line) {
				return
			}
		}
	}
}

// handleCommand applies one stdin line and reports whether to keep going.
func handleCommand(coord *call.Coordinator, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "call":
		if len(fields) < 2 {
			fmt.Println("usage: call <id> [audio|video]")
			return true
		}
		mode := domain.ModeVideo
		if len(fields) > 2 {
			mode = domain.Mode(fields[2])
		}
		coord.StartCall(domain.Profile{ID: domain.PartyID(fields[1])}, mode)
	case "answer":
		coord.AnswerCall()
	case "reject":
		coord.RejectCall()
	case "hangup":
		coord.EndCall()
	case "mute":
		coord.ToggleMute()
	case "video":
		coord.ToggleVideo()
	case "speaker":
		coord.ToggleSpeaker()
	case "status":
		printStatus(coord.Status())
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return true
}

func printStatuses(statuses <-chan call.Status, coord *call.Coordinator, autoAnswer bool) {
	for st := range statuses {
		printStatus(st)
		if autoAnswer && st.CallStatus == domain.StateRinging && st.Role == domain.RoleCallee {
			go coord.AnswerCall()
		}
	}
}

func printStatus(st call.Status) {
	switch st.CallStatus {
	case domain.StateIdle:
		fmt.Println("[idle]")
	case domain.StateRinging:
		fmt.Printf("[ringing] %s is calling (%s)\n", st.RemoteUser.DisplayName(), modeName(st.IsAudioOnly))
	case domain.StateActive:
		fmt.Printf("[active] %s %s muted=%t video_off=%t speaker_off=%t\n",
			st.RemoteUser.DisplayName(), call.FormatDuration(st.CallDuration), st.IsMuted, st.IsVideoOff, st.IsSpeakerOff)
	case domain.StateEnded:
		msg := st.Message()
		if msg == "" {
			msg = string(st.Reason)
		}
		fmt.Printf("[ended] %s\n", msg)
	default:
		fmt.Printf("[%s] %s\n", st.CallStatus, st.RemoteUser.DisplayName())
	}
}

func modeName(audioOnly bool) string {
	if audioOnly {
		return "audio"
	}
	return "video"
}

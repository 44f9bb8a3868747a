package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bwmarrin/discordgo"

	"tracker/bot/internal/core"
	"tracker/bot/internal/discordutil"
	"tracker/bot/internal/httpapi"
	"tracker/bot/internal/ratelimit"
	"tracker/bot/internal/roblox"
	"tracker/bot/internal/stats"
	"tracker/bot/internal/store"
)

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "tracker.sqlite") {
			return
		}
	}

	dbPath := flag.String("db", "tracker.sqlite", "SQLite database path")
	robloxBaseURL := flag.String("roblox-base-url", "https://apis.roblox.com", "base URL for the upstream game-platform API gateway")
	apiAddr := flag.String("api-addr", ":8080", "health/stats HTTP listen address (empty to disable)")
	flag.Parse()

	token := os.Getenv("TOKEN")
	if token == "" {
		log.Fatal("[main] TOKEN environment variable is required")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Fatalf("[discord] create session: %v", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	recorder := stats.New()
	limiters := ratelimit.NewLimiters()
	robloxClient := roblox.NewHTTPClient(*robloxBaseURL)
	facade := roblox.NewFacade(robloxClient, limiters, slog.Default().With("component", "roblox"))

	targetStates := core.NewTargetStates()
	channelStates := core.NewChannelStates()

	tracker := roblox.NewTracker(facade, robloxClient, st, targetStates, limiters, missingTargetTolerance, recorder, slog.Default().With("component", "tracking"))

	chatClient := newDiscordChatClient(session)
	storeAdapter := &channelStoreAdapter{st: st}
	updater := discordutil.NewUpdater(storeAdapter, chatClient, facade, channelStates, targetStates, slog.Default().With("component", "update"))

	cmds := NewCommandHandler(st, recorder, slog.Default().With("component", "discord"))
	session.AddHandler(cmds.HandleInteraction)
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("bot ready", "username", r.User.Username)
	})

	if err := session.Open(); err != nil {
		log.Fatalf("[discord] open session: %v", err)
	}
	defer session.Close()

	if err := registerCommands(session, ""); err != nil {
		slog.Warn("failed to register global commands", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[main] shutting down...")
		cancel()
	}()

	go runTrackingLoop(ctx, tracker, recorder, slog.Default().With("component", "tracking"))
	go runUpdateLoop(ctx, updater, recorder, slog.Default().With("component", "update"))
	go RunMetrics(ctx, recorder, minTrackingDelay*10, slog.Default().With("component", "metrics"))

	if *apiAddr != "" {
		api := httpapi.New(recorder, slog.Default().With("component", "httpapi"))
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Printf("[httpapi] %v", err)
			}
		}()
	}

	<-ctx.Done()
}

package main

import (
	"context"
	"fmt"
	"os"

	"tracker/bot/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "status":
		return cliStatus(dbPath)
	case "channel":
		return cliChannel(args[1:], dbPath)
	default:
		return false
	}
}

func openCLIStore(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()
	ctx := context.Background()

	channels, err := st.GetAllChannels(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	games, err := st.GetGameCount(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	targets, err := st.GetTargetCount(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Channels: %d\n", len(channels))
	fmt.Printf("Games watched: %d\n", games)
	fmt.Printf("Targets tracked: %d\n", targets)
	return true
}

func cliChannel(args []string, dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()
	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		ids, err := st.GetAllChannels(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Println("No tracked channels.")
			return true
		}
		for _, id := range ids {
			fmt.Printf("  %d\n", id)
		}
		return true
	}

	if args[0] == "info" && len(args) > 1 {
		id, err := parseID(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid channel id: %v\n", err)
			os.Exit(1)
		}
		cc, err := st.GetChannel(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer st.ReleaseChannel(cc)
		games, _ := st.Games(ctx, cc)
		targets, _ := st.Targets(ctx, cc)
		fmt.Printf("Channel: %d\n", cc.ID)
		fmt.Printf("Guild: %d\n", cc.Guild)
		fmt.Printf("Games watched: %d\n", len(games))
		fmt.Printf("Targets tracked: %d\n", len(targets))
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: bot channel [list|info <id>]\n")
	os.Exit(1)
	return true
}

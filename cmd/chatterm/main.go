// Command chatterm runs the portfolio typewriter and chat in a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/genai"
	"github.com/BTreeMap/PortfolioChat/internal/script"
	"github.com/BTreeMap/PortfolioChat/internal/store"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
	"github.com/BTreeMap/PortfolioChat/internal/util"
)

func main() {
	scriptPath := flag.String("script", os.Getenv("SCRIPT_PATH"), "persona script YAML file (overrides $SCRIPT_PATH)")
	dbDSN := flag.String("db-dsn", "", "archive the transcript to this SQLite path or PostgreSQL URL")
	seed := flag.String("seed", "", "open the conversation with this message")
	logPath := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	if err := run(*scriptPath, *dbDSN, *seed, *logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initializeLogger logs to path, or discards logs so they do not tear the UI.
func initializeLogger(path string) (io.Closer, error) {
	if path == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f, nil
}

func run(scriptPath, dbDSN, seed, logPath string) error {
	logFile, err := initializeLogger(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	sc := script.Default()
	if scriptPath != "" {
		if sc, err = script.Load(scriptPath); err != nil {
			return err
		}
	}

	var gen conversation.Generator
	if key := util.GetEnvOrDefault("OPENAI_API_KEY", ""); key != "" {
		client, err := genai.NewClient(genai.WithAPIKey(key))
		if err != nil {
			return err
		}
		gen = client
	}

	engine, err := conversation.NewEngine(conversation.WithConfig(sc.Chat.Config), conversation.WithResolver(sc.Resolver(gen)))
	if err != nil {
		return err
	}
	var managerOpts []conversation.ManagerOption
	if dbDSN != "" {
		st, err := store.Open(dbDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		managerOpts = append(managerOpts, conversation.WithArchiver(st))
	}
	manager := conversation.NewManager(engine, managerOpts...)

	c, err := manager.Open(seed)
	if err != nil {
		return err
	}

	events := newPump()
	snap, unsubscribe := c.Watch(func(ev conversation.Event) {
		events.push(eventMsg(ev))
	})
	defer unsubscribe()

	tw := sc.Typewriter
	h, err := typewriter.Start(tw.Phrases, tw.Cadence, func(f typewriter.Frame) {
		events.push(frameMsg(f))
	}, typewriter.WithStartDelay(tw.StartDelay), typewriter.WithName("chatterm"))
	if err != nil {
		return err
	}

	program := tea.NewProgram(newModel(sc.Name, sc.Greeting, sc.Chat.Presets, snap, c.Submit), tea.WithAltScreen())
	go events.run(program.Send)

	_, runErr := program.Run()

	h.Stop()
	events.close()
	t, err := manager.Close(context.Background(), c.ID(), conversation.CloseReasonVisitor)
	if err != nil {
		slog.Warn("chatterm: transcript not archived", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Printf("Conversation %s closed with %d messages\n", t.ConversationID, len(t.Messages))
	return nil
}

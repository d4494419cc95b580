package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/logging"
	"ragchat/internal/orchestrator"
	"ragchat/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath  string
		threadID string
		plain    bool
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/ragchat/config.yaml if not provided)")
	flag.StringVar(&threadID, "thread", "local", "Conversation thread id")
	flag.BoolVar(&plain, "plain", false, "Use a line-based prompt instead of the full-screen chat")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.NewFile(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()
	fmt.Printf("Sessions: %s  Chunks: %d\n", a.Orchestrator.StoreName(), len(a.Index.Chunks))

	if plain {
		err = runPlain(ctx, a.Orchestrator, threadID, os.Stdin, os.Stdout)
	} else {
		err = runTUI(ctx, a.Orchestrator, threadID)
	}
	if err != nil {
		logger.Error("chat ended with error", zap.Error(err))
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

func runTUI(ctx context.Context, o *orchestrator.Orchestrator, threadID string) error {
	m := tui.New(ctx, o, threadID, "ragchat")
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return printSnapshot(ctx, o, threadID, os.Stdout)
}

// runPlain reads one user message per line until EOF or a farewell.
func runPlain(ctx context.Context, o *orchestrator.Orchestrator, threadID string, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		fmt.Fprint(out, "Assistant: ")
		st := o.Stream(ctx, threadID, text)
		streamed := false
		for f := range st.Fragments() {
			fmt.Fprint(out, f.Text)
			streamed = true
		}
		res, err := st.Wait()
		if err != nil {
			fmt.Fprintf(out, "\n[error] %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if res.Terminated {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if !streamed && res.State.StructuredAnswer != nil {
			fmt.Fprint(out, res.State.StructuredAnswer.Answer)
		}
		fmt.Fprintln(out)
		if err := printSnapshot(ctx, o, threadID, out); err != nil {
			return err
		}
	}
}

func printSnapshot(ctx context.Context, o *orchestrator.Orchestrator, threadID string, out io.Writer) error {
	snap, err := o.Snapshot(ctx, threadID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

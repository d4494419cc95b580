package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/indexer"
	"ragchat/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath  string
		rebuild  bool
		watch    bool
		debounce time.Duration
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&rebuild, "rebuild", false, "Rebuild artifacts even if they exist (repairs a corrupt pair)")
	flag.BoolVar(&watch, "watch", false, "Keep running and rebuild when the corpus changes")
	flag.DurationVar(&debounce, "debounce", indexer.DefaultDebounce, "Quiet period before a watch rebuild")
	flag.Parse()

	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to init logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emb, err := app.NewEmbedder(cfg)
	if err != nil {
		logger.Fatal("embedder", zap.Error(err))
	}
	ix, closeIx, err := app.NewIndexer(cfg, emb, logger)
	if err != nil {
		logger.Fatal("indexer", zap.Error(err))
	}
	defer closeIx()

	var loaded *indexer.Loaded
	if rebuild {
		loaded, err = ix.Rebuild(ctx)
	} else {
		loaded, err = ix.LoadOrBuild(ctx)
	}
	if err != nil {
		logger.Fatal("index", zap.Error(err))
	}
	fmt.Printf("index %s: %d chunks in %s\n", loaded.BuildID, len(loaded.Chunks), cfg.Index.ArtifactDir)

	if !watch {
		return
	}
	logger.Info("watching corpus", zap.String("dir", cfg.Index.DataDir), zap.Duration("debounce", debounce))
	err = ix.Watch(ctx, debounce, func(l *indexer.Loaded) {
		fmt.Printf("index %s: %d chunks\n", l.BuildID, len(l.Chunks))
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatal("watch", zap.Error(err))
	}
}

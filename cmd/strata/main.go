package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/strata3d/engine/internal/command"
	"github.com/strata3d/engine/internal/config"
	"github.com/strata3d/engine/internal/data"
	"github.com/strata3d/engine/internal/datasource"
	"github.com/strata3d/engine/internal/lifecycle"
	"github.com/strata3d/engine/internal/load"
	"github.com/strata3d/engine/internal/scene"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             Strata  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      tiled scene-graph engine host        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mengine:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main engine host logic ─────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/strata.toml"
	if p := os.Getenv("STRATA_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Engine.Name)

	// 3. Optional PostgreSQL connection and migrations
	var db *datasource.DB
	if cfg.Database.Enabled {
		printSection("database")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err = datasource.NewDB(ctx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = datasource.RunMigrations(migCtx, db.Pool, log)
		migCancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		fmt.Println()
	}

	// 4. Load scene data tables
	printSection("scene data")

	prefabs, err := data.LoadPrefabTable(cfg.Scene.Prefabs)
	if err != nil {
		return fmt.Errorf("prefab table: %w", err)
	}
	printStat("prefabs", prefabs.Count())

	sceneDef, err := data.LoadScene(cfg.Scene.Manifest)
	if err != nil {
		return fmt.Errorf("scene manifest: %w", err)
	}
	printStat("layers", len(sceneDef.Layers))
	fmt.Println()

	// 5. Build the lifecycle engine and scheduler
	pool := lifecycle.NewPool(log)
	pool.SetEnabled(cfg.Engine.Pooling)
	pool.SetKindCap(cfg.Engine.PoolKindCap)
	registry := lifecycle.NewRegistry(log)
	coord := lifecycle.NewCoordinator(pool, registry, log)

	root := scene.NewNode("root", sceneDef.Name)
	root.LifecycleState().SetNonPoolable(true)
	sched := scene.NewScheduler(root, coord, log)
	factory := scene.NewFactory(sched, prefabs, log)

	// 6. Open datasources, one per configured kind, shared across layers
	sources := make(map[string]load.Datasource)
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()

	openSource := func(kind string) (load.Datasource, error) {
		if src, ok := sources[kind]; ok {
			return src, nil
		}
		var src load.Datasource
		switch kind {
		case "postgres":
			if db == nil {
				return nil, fmt.Errorf("layer wants postgres but database is disabled")
			}
			src = datasource.NewPGSource(db, sched, log)
		case "script":
			scriptSrc, err := datasource.NewScriptSource(cfg.Scene.Script, sched, log)
			if err != nil {
				return nil, err
			}
			src = scriptSrc
		case "file":
			src = datasource.NewFileSource(cfg.Scene.DataDir, sched, log)
		default:
			return nil, fmt.Errorf("unknown datasource kind %q", kind)
		}
		sources[kind] = src
		return src, nil
	}

	// 7. Build one loader per layer and request its initial scope sweep
	printSection("layers")

	loaders := make([]*load.Loader, 0, len(sceneDef.Layers))
	for i := range sceneDef.Layers {
		layer := &sceneDef.Layers[i]
		kind := layer.Source
		if kind == "" {
			kind = cfg.Scene.Source
		}
		src, err := openSource(kind)
		if err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		if layer.Prefab != "" {
			if n := factory.Spawn(layer.Prefab, layer.Name, root); n == nil {
				return fmt.Errorf("layer %s: spawn prefab %q failed", layer.Name, layer.Prefab)
			}
		}

		ldr := load.NewLoader(layer.Name, src, sched, coord, log)
		ldr.SetAutoDisposeUnused(layer.AutoDisposeUnused)
		if !registry.Add(lifecycle.CategoryManager, ldr) {
			return fmt.Errorf("layer %s: loader registration failed", layer.Name)
		}

		ldr.SetWantedScopes(layerScopes(layer))
		ldr.UpdateLoadScopes(false)
		if iv := layer.ReloadInterval(); iv > 0 {
			ldr.EnableAutoReload(iv, layer.SettleDelay())
		}
		loaders = append(loaders, ldr)
		printStat(layer.Name, layer.TileCount())
	}
	fmt.Println()

	// 8. Wire the file watcher into change-triggered reloads
	if cfg.Scene.WatchFiles {
		if fileSrc, ok := sources["file"].(*datasource.FileSource); ok {
			err := fileSrc.Watch(func() {
				for _, ldr := range loaders {
					ldr.NotifyChanged()
				}
			})
			if err != nil {
				log.Warn("tile watch disabled", zap.Error(err))
			} else {
				printOK("tile tree watched for changes")
			}
		}
	}

	// 9. Command surface
	cmdReg := command.NewRegistry(log)
	command.RegisterBuiltins(cmdReg, command.Deps{
		Coordinator: coord,
		Factory:     factory,
		Scheduler:   sched,
	})

	// 10. Start the update loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.TickRate)
	defer ticker.Stop()

	printSection("engine ready")
	printReady(fmt.Sprintf("update loop started (tick: %s)", cfg.Engine.TickRate))
	fmt.Println()

	sched.RequestActivate()

	statsCounter := 0
	statsInterval := int(time.Minute / cfg.Engine.TickRate)
	if statsInterval < 1 {
		statsInterval = 1
	}

	for {
		select {
		case <-ticker.C:
			sched.Tick(cfg.Engine.TickRate)
			statsCounter++
			if statsCounter >= statsInterval {
				statsCounter = 0
				resp := cmdReg.Dispatch(command.Request{Command: "stats"})
				log.Info("engine stats", zap.Any("stats", resp.Result))
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			for _, ldr := range loaders {
				coord.Dispose(ldr, lifecycle.ContextDestroy, lifecycle.DelayNone)
			}
			coord.Dispose(root, lifecycle.ContextDestroy, lifecycle.DelayNone)
			sched.Tick(cfg.Engine.TickRate)
			log.Info("engine stopped")
			return nil
		}
	}
}

// layerScopes expands a layer's tile range into scope keys.
func layerScopes(layer *data.LayerDef) []load.ScopeKey {
	keys := make([]load.ScopeKey, 0, layer.TileCount())
	for x := layer.MinX; x <= layer.MaxX; x++ {
		for y := layer.MinY; y <= layer.MaxY; y++ {
			keys = append(keys, load.ScopeKey{
				Layer: layer.Name,
				Level: layer.Level,
				X:     x,
				Y:     y,
			})
		}
	}
	return keys
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

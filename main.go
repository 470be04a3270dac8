package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"mt-trie/merkletrie"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	logLevel    string
	envPrefix   = "MT_TRIE"
	keyCount    int
	wideKeys    bool
	metricsPort int
	trieCfg     = merkletrie.DefaultConfig()
	v           = viper.New()
)

type demoMeta = merkletrie.SizeMetadata[merkletrie.Int32Value]

var rootCmd = &cobra.Command{
	Use:   "mt-trie",
	Short: "Build a Merkle trie through a serial batch, normalize it and accumulate its leaves",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

// initConfig читает конфиг-файл и переменные окружения
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfgErr error
	if cfgFile != "" {
		cfgErr = v.ReadInConfig()
	}

	bindFlags(rootCmd, v)
	initLogger()

	if cfgErr != nil {
		log.Errorf("Read config error: %v", cfgErr)
	}
}

func initLogger() {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, PadLevelText: true, DisableQuote: true})
}

// bindFlags переносит значения из viper в незаданные флаги
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func initFlags() {
	cobra.OnInitialize(initConfig)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warning, error")
	flags.IntVar(&keyCount, "keys", 10000, "Number of keys to insert")
	flags.BoolVar(&wideKeys, "wide", false, "Use 256-bit keys instead of 64-bit")
	flags.IntVar(&metricsPort, "metrics.port", 0, "Serve prometheus metrics on this port and wait for interrupt (default: disabled)")
	flags.IntVar(&trieCfg.Workers, "trie.workers", trieCfg.Workers, "Workers for normalize, merge and accumulate")
	flags.Uint64Var(&trieCfg.GCCollectInterval, "trie.gc-collect-interval", trieCfg.GCCollectInterval, "Try to advance the GC epoch every N retired nodes")
	flags.IntVar(&trieCfg.AccumulateTasksPerWorker, "trie.accumulate-tasks-per-worker", trieCfg.AccumulateTasksPerWorker, "Subtrees per worker when accumulating")
	flags.IntVar(&trieCfg.SerialArenaCapacity, "trie.serial-arena-capacity", trieCfg.SerialArenaCapacity, "Initial node capacity of serial tries")
}

func main() {
	initFlags()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadTrieConfig собирает секцию trie из флагов (уже с учетом файла) и проверяет ее
func loadTrieConfig() (*merkletrie.Config, error) {
	v.Set("trie.workers", trieCfg.Workers)
	v.Set("trie.gc-collect-interval", trieCfg.GCCollectInterval)
	v.Set("trie.accumulate-tasks-per-worker", trieCfg.AccumulateTasksPerWorker)
	v.Set("trie.serial-arena-capacity", trieCfg.SerialArenaCapacity)
	return merkletrie.ConfigFromViper(v, "trie")
}

func run() error {
	cfg, err := loadTrieConfig()
	if err != nil {
		return fmt.Errorf("invalid trie config: %w", err)
	}
	if keyCount <= 0 {
		return errors.New("--keys must be positive")
	}

	fmt.Println("=== Merkle trie ===")
	fmt.Printf("keys=%d workers=%d wide=%v\n", keyCount, cfg.Workers, wideKeys)

	var trie merkletrie.Checkpointer
	if wideKeys {
		trie = runDemo(cfg, func(i int) merkletrie.UInt256Prefix {
			var b [32]byte
			b[0] = byte(i)
			b[31] = byte(i >> 8)
			b[15] = byte(i >> 16)
			return merkletrie.UInt256PrefixFromBytes32(b)
		})
	} else {
		trie = runDemo(cfg, func(i int) merkletrie.UInt64Prefix {
			return merkletrie.UInt64Prefix(uint64(i) * 0x9E3779B97F4A7C15)
		})
	}

	forest := merkletrie.NewForest(cfg)
	if err := forest.Register("demo", trie); err != nil {
		return err
	}
	global := forest.Checkpoint()
	proof, err := forest.Proof("demo")
	if err != nil {
		return fmt.Errorf("failed to build forest proof: %w", err)
	}
	fmt.Printf("Forest root: %s (proof ok: %v)\n", global.String()[:32], proof.Verify())

	if metricsPort == 0 {
		return nil
	}
	return serveMetrics(forest)
}

// runDemo: serial-сборка → merge → normalize → accumulate → delete половины → normalize
func runDemo[K merkletrie.Prefix[K]](cfg *merkletrie.Config, keyFn func(i int) K) merkletrie.Checkpointer {
	trie := merkletrie.New[K, merkletrie.Int32Value, demoMeta](cfg)

	start := time.Now()
	serial := trie.OpenSerialSubsidiary()
	for i := 0; i < keyCount; i++ {
		serial.Insert(keyFn(i), merkletrie.Int32Value(i))
	}
	log.WithField("leaves", serial.Len()).WithField("elapsed", time.Since(start)).Info("serial batch built")

	start = time.Now()
	trie.MergeIn(serial)
	root := trie.HashAndNormalize()
	log.WithField("elapsed", time.Since(start)).Info("merged and normalized")
	fmt.Printf("Root: %s\n", root.String()[:32])
	fmt.Printf("Metadata: %s\n", trie.Metadata())

	start = time.Now()
	values := merkletrie.AccumulateValues[merkletrie.Int32Value](trie, merkletrie.IdentityAccumulator[merkletrie.Int32Value, demoMeta]{})
	log.WithField("values", len(values)).WithField("elapsed", time.Since(start)).Info("values accumulated")

	for i := 0; i < keyCount; i += 2 {
		trie.Delete(keyFn(i))
	}
	root = trie.HashAndNormalize()
	fmt.Printf("Root after deleting even keys: %s\n", root.String()[:32])
	fmt.Printf("Metadata: %s\n", trie.Metadata())
	fmt.Printf("Stats: %s\n", trie.GetStats())

	return trie
}

func serveMetrics(src merkletrie.StatsSource) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(merkletrie.NewCollector("mt", "demo", src)); err != nil {
		return fmt.Errorf("failed to register trie collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("port", metricsPort).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// FILE: lixenwraith/transport/cmd/stress/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lixenwraith/transport"
	"github.com/lixenwraith/transport/destination"
)

// Environment overrides, read after --env-file is loaded
const (
	envTarget      = "TRANSPORT_STRESS_TARGET"
	envDestination = "TRANSPORT_STRESS_DESTINATION"
	envOverrides   = "TRANSPORT_STRESS_OVERRIDES" // comma separated key=value
)

type stressOptions struct {
	configFile   string
	manifestFile string
	envFile      string
	target       string
	destination  string
	overrides    []string
	workers      int
	records      int
	maxSize      int
	saveConfig   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Drive a transport dispatcher with concurrent record bursts",
		Long: "stress sends random records from many goroutines through a dispatcher, " +
			"honoring backpressure, and reports throughput, rejections and per-target counters.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "TOML config file with a [transport] table")
	f.StringVar(&opts.manifestFile, "manifest", "", "YAML manifest with overrides and targets")
	f.StringVar(&opts.envFile, "env-file", "", "dotenv file with TRANSPORT_STRESS_* variables")
	f.StringVar(&opts.target, "target", transport.TargetFile, "target when no manifest is given")
	f.StringVar(&opts.destination, "destination", "./logs/stress.log", "target destination")
	f.StringArrayVar(&opts.overrides, "set", nil, "config override key=value (repeatable)")
	f.IntVar(&opts.workers, "workers", 64, "concurrent producers")
	f.IntVar(&opts.records, "records", 100000, "total records to send")
	f.IntVar(&opts.maxSize, "max-size", 1024, "max random record size in bytes")
	f.StringVar(&opts.saveConfig, "save-config", "", "write the effective config to this TOML file")

	return cmd
}

// applyEnv loads the dotenv file and lets environment variables fill options
func applyEnv(opts *stressOptions) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("failed to load env file '%s': %w", opts.envFile, err)
		}
	}
	if v := os.Getenv(envTarget); v != "" {
		opts.target = v
	}
	if v := os.Getenv(envDestination); v != "" {
		opts.destination = v
	}
	if v := os.Getenv(envOverrides); v != "" {
		for _, kv := range strings.Split(v, ",") {
			if kv = strings.TrimSpace(kv); kv != "" {
				opts.overrides = append(opts.overrides, kv)
			}
		}
	}
	return nil
}

func runStress(ctx context.Context, opts *stressOptions) error {
	if err := applyEnv(opts); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.workers < 1 || opts.maxSize < 1 {
		return fmt.Errorf("workers and max-size must be positive")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("--- Transport Stress Test ---")

	var failures atomic.Int64
	b := transport.NewBuilder().
		InternalErrorsToStderr(true).
		OnError(func(target string, err error) {
			failures.Add(1)
			fmt.Fprintf(os.Stderr, "\n[target %s failed] %v\n", target, err)
		})
	if opts.configFile != "" {
		b = b.ConfigFile(opts.configFile)
	}
	if opts.manifestFile != "" {
		b = b.Manifest(opts.manifestFile)
	} else {
		b = b.Spec(transport.Spec{Target: opts.target, Destination: opts.destination})
	}
	b = b.Override(opts.overrides...)

	d, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	if opts.saveConfig != "" {
		if err := d.Config().Save(opts.saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save configuration to '%s': %v\n", opts.saveConfig, err)
		} else {
			fmt.Printf("Configuration saved to: %s\n", opts.saveConfig)
		}
	}

	fmt.Printf("Targets: %s\n", strings.Join(d.Targets(), ", "))
	fmt.Printf("Starting: %d workers, %d records, up to %d bytes each.\n", opts.workers, opts.records, opts.maxSize)
	fmt.Println("Press Ctrl+C to stop early.")

	var (
		next         atomic.Int64
		sent         atomic.Int64
		rejected     atomic.Int64
		backpressure atomic.Int64
		wg           sync.WaitGroup
	)

	startTime := time.Now()
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for {
				seq := next.Add(1)
				if seq > int64(opts.records) || ctx.Err() != nil {
					return
				}
				rec := fmt.Sprintf(`{"wkr":%d,"seq":%d,"msg":"%s"}`, id, seq, randomMessage(rng, opts.maxSize))
				status, err := d.Send([]byte(rec))
				switch {
				case errors.Is(err, transport.ErrOverflow):
					rejected.Add(1)
				case err != nil:
					rejected.Add(1)
					if errors.Is(err, transport.ErrTransportUnavailable) {
						return
					}
				default:
					sent.Add(1)
				}
				if status == destination.Backpressure {
					backpressure.Add(1)
					_ = d.WaitDrain(ctx)
				}
				if seq%10000 == 0 {
					fmt.Printf("\rProgress: %d/%d records submitted", seq, opts.records)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n--- Test Finished ---\n")
	fmt.Printf("Sent %d, rejected %d, backpressure pauses %d in %v\n",
		sent.Load(), rejected.Load(), backpressure.Load(), duration.Round(time.Millisecond))
	if duration.Seconds() > 0 {
		fmt.Printf("Approximate records/sec: %.2f\n", float64(sent.Load())/duration.Seconds())
	}

	fmt.Println("Flushing and closing dispatcher (allowing up to 10s)...")
	if err := d.Flush(10 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "Flush: %v\n", err)
	}
	stats := d.Stats()
	closeErr := d.Close(10 * time.Second)

	for _, s := range stats {
		fmt.Printf("  %-16s %-9s submitted=%d delivered=%d rejected=%d discarded=%d backpressure=%d\n",
			s.Name, s.State, s.Submitted, s.Delivered, s.Rejected, s.Discarded, s.BackpressureEvents)
	}
	if closeErr != nil {
		return fmt.Errorf("close: %w", closeErr)
	}
	if n := failures.Load(); n > 0 {
		return fmt.Errorf("%d targets failed", n)
	}
	fmt.Println("--- Stress Test Complete ---")
	return nil
}

func randomMessage(rng *rand.Rand, maxSize int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 "
	size := rng.Intn(maxSize) + 10
	var sb strings.Builder
	sb.Grow(size)
	for i := 0; i < size; i++ {
		sb.WriteByte(chars[rng.Intn(len(chars))])
	}
	return sb.String()
}

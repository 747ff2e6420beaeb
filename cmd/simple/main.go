// FILE: lixenwraith/transport/cmd/simple/main.go
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lixenwraith/transport"
)

const configFile = "simple_config.toml"

// Example TOML content
var tomlContent = `
# Example simple_config.toml
[transport]
  queue_size = 1024
  backpressure_mark = 768
  flush_timeout_ms = 2000
  policy = "best_effort"
  internal_errors_to_stderr = true
`

func main() {
	fmt.Println("--- Simple Transport Example ---")

	// --- Setup Config ---
	if err := os.WriteFile(configFile, []byte(tomlContent), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write example config: %v\n", err)
	} else {
		fmt.Printf("Created example config file: %s\n", configFile)
	}

	cfg, err := transport.NewConfigFromFile(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v. Using defaults.\n", err)
		cfg = transport.DefaultConfig()
	}

	// --- Build Dispatcher ---
	// One file target plus stdout
	d, err := transport.NewBuilder().
		Config(cfg).
		File("./simple_logs/app.log").
		FD(1).
		OnError(func(target string, err error) {
			fmt.Fprintf(os.Stderr, "target %s failed: %v\n", target, err)
		}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dispatcher: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dispatcher started with targets: %v\n", d.Targets())

	// --- Save the effective configuration ---
	if err := d.Config().Save(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save configuration to '%s': %v\n", configFile, err)
	} else {
		fmt.Printf("Configuration saved to: %s\n", configFile)
	}

	// --- Sending ---
	_, _ = d.Send([]byte(`{"msg":"application started"}`))
	_, _ = d.Print("raw values:", 42, true, map[string]int{"a": 1})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				_, _ = d.Send([]byte(fmt.Sprintf(`{"goroutine":%d,"iteration":%d}`, id, j)))
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// --- Shutdown ---
	if err := d.Close(2 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "Close error: %v\n", err)
	}
	for _, s := range d.Stats() {
		fmt.Printf("  %-8s %-7s delivered=%d\n", s.Name, s.State, s.Delivered)
	}
	fmt.Println("--- Example Finished ---")
	fmt.Println("Check ./simple_logs/app.log for output.")
}

// Command wikicron appends rendered text to MediaWiki pages on cron
// schedules or on demand.
package main

import (
	"fmt"
	"os"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

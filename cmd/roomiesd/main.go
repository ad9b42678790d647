// Command roomiesd is the sync daemon and CLI for household task data.
//
// It keeps a local SQLite replica consistent with the remote service
// across intermittent connectivity, concurrent multi-device edits, and
// real-time updates.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

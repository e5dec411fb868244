// janusd runs the local model supervisor and OpenAI-compatible reverse
// proxy as a single background daemon.
package main

import (
	"os"

	"github.com/coreruntime/janusd/cmd/janusd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command studybuddy is the entry point for the StudyBuddy course assistant.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// chat and ingestion API.
package main

import (
	"fmt"
	"os"

	"github.com/studybuddy/studybuddy-go/cmd/studybuddy/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

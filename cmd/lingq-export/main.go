// Command lingq-export downloads a LingQ vocabulary collection, language by
// language, and writes it to JSON, CSV and optional archive sinks.
package main

import (
	"fmt"
	"os"
)

// Exit codes.
const (
	exitOK         = 0
	exitFatal      = 1
	exitIncomplete = 2
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	code := exitOK
	cmd := newRootCmd(&code)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFatal
	}
	return code
}

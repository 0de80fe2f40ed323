package cmd

import "fmt"

// PrintLogo prints the short banner shown above --help output in interactive mode.
func PrintLogo() {
	fmt.Print("\nagentpipe-orchestrator — multi-agent conversation orchestration\n\n")
}

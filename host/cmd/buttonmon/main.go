// Command buttonmon watches buttons, either through the button firmware over
// USB/serial or directly on a Linux board's GPIO header.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}

// Command shuttle runs the pieces of an agent data shuttle: the subscriber that
// hands events to an agent, the relay that feeds the bridge, and a publisher for
// producing events from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// Command signal-bot receives trading alerts over HTTP and turns them into
// bracketed futures orders.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Command devtool runs maintenance tasks against a development identity
// database and drives client sessions against a running server.
package main

import (
	"os"

	"github.com/kanggyeonggu/identity-service/internal/devtool"
)

func main() {
	if err := devtool.NewRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

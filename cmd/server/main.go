// cmd/server/main.go
package main

import (
	"os"

	"github.com/mankinLew/milleu-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

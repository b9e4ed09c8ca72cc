// Command cmcflow runs the CoinMarketCap snapshot pipeline and query API.
package main

import (
	"context"
	"fmt"
	"os"

	"cmc-analytics/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

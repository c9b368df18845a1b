package main

import (
	"fmt"
	"os"

	"github.com/HydraXdev/HydraX-v2-sub002/cmd/firerelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

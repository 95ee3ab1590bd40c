package main

import (
	"fmt"
	"os"

	"github.com/searchktools/fast-server/app"
	"github.com/searchktools/fast-server/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fast-server: config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fast-server: init: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fast-server: %v\n", err)
		os.Exit(1)
	}
}

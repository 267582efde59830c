package main

import (
	"os"

	"github.com/guilhermegouw/chatctx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

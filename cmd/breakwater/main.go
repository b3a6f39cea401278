// Command breakwater runs the Pixelflut server.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("breakwater exited with error")
		os.Exit(1)
	}
}

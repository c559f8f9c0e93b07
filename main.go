package main

import (
	"github.com/radek00/PeerDrop/cmd"
	"github.com/radek00/PeerDrop/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}

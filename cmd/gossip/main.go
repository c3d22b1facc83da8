// Command gossip is an anti-entropy gossip node speaking line-delimited
// JSON on stdin/stdout.
package main

import (
	"github.com/ryandielhenn/zephyrmesh/internal/app"
	"github.com/ryandielhenn/zephyrmesh/internal/config"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

func main() {
	app.Main(gossip.New(), config.DefaultGossipTick)
}

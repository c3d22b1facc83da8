// Command broadcast is a reliable-broadcast node speaking line-delimited
// JSON on stdin/stdout.
package main

import (
	"github.com/ryandielhenn/zephyrmesh/internal/app"
	"github.com/ryandielhenn/zephyrmesh/internal/config"
	"github.com/ryandielhenn/zephyrmesh/pkg/broadcast"
)

func main() {
	app.Main(broadcast.New(), config.DefaultBroadcastTick)
}

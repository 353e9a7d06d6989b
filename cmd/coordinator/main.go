// Command coordinator is the FlipSync coordination runtime's composition
// root: it wires the event bus, agent registry, task delegator, result
// aggregator, conflict resolver, pipeline controller, communication manager,
// intent orchestrator, and realtime broadcaster into one process, then
// serves the chat HTTP/WebSocket surface alongside an observability health
// server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

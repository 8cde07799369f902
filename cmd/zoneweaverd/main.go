// Command zoneweaverd is the control-plane daemon for an illumos/OmniOS
// zone-and-storage hypervisor host. It wires the persistence layer, task
// engine, zone orchestrator, storage pipeline, PTY multiplexer, recipe
// interpreter, VNC supervisor, and HTTP/WS surface together behind a
// cobra CLI.
package main

import "github.com/Makr91/zoneweaver-api-sub001/cmd/zoneweaverd/cmd"

func main() {
	cmd.Execute()
}

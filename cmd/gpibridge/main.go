// Command gpibridge is the host-side process for a GPIB-to-USB bridge: it
// runs the bus engine, the ++-command interpreter, and the serial link to
// whatever terminal or scripting host is talking to it.
package main

import "gpibridge/cmd/gpibridge/cmd"

func main() {
	cmd.Execute()
}

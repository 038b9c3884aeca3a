// Command client is a line client for the chat server's UDP control channel.
package main

import "os"

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}

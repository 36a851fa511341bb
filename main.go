package main

import "github.com/beaconworks/agentrelay/cmd"

func main() {
	cmd.Execute()
}

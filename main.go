package main

import "github.com/kvrouter/kvrouter/cmd"

func main() {
	cmd.Execute()
}

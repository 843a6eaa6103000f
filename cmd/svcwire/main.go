package main

import "github.com/danmuck/svcwire/cmd/svcwire/cmd"

func main() {
	cmd.Execute()
}

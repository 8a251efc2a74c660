package main

import "github.com/graphmind-ai/graphmind/cli"

func main() {
	cli.Execute()
}

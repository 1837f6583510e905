package main

import "github.com/applybot-dev/applybot/pkg/cli"

func main() {
	cli.Execute()
}

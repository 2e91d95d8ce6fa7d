package main

import (
	"github.com/sessiongraph/sessiongraph/cli"
)

func main() {
	cli.Execute()
}

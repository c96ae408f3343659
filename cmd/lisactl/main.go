package main

import (
	"github.com/ajsharda17/lisa/cmd/lisactl/cmd"
)

func main() {
	cmd.Execute()
}

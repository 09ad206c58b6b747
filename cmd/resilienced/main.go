package main

import "github.com/Thirteen88/ish-automation-sub001/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/unijord/mortable/internal/cli"

func main() {
	cli.Execute()
}

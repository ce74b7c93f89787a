package main

import "github.com/alberthild/vainplex-openclaw-sub002/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/scx1332/pipe-updater/cmd/pipe-updater/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/xaf/omni/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/nfrund/topobus/cmd/toposervice/cmd"

func main() {
	cmd.Execute()
}

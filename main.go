package main

import "github.com/wormhole-demo/portal-transfer/cmd"

func main() {
	cmd.Execute()
}

package main

import "tiny-rpc/cmd"

func main() {
	cmd.Execute()
}

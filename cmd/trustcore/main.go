package main

import "github.com/helyxium/trustcore/cmd/trustcore/cmd"

func main() {
	cmd.Execute()
}

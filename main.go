package main

import "github.com/batchfeed/batchfeed/cmd"

func main() {
	cmd.Execute()
}

package main

import "refinery/cmd"

func main() {
	cmd.Execute()
}

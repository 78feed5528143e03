package main

import "patternmem/cmd"

func main() {
	cmd.Execute()
}

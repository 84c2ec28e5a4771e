package main

import "github.com/avivsh/polystrat/cmd"

func main() {
	cmd.Execute()
}

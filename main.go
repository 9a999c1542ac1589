package main

import "github.com/merlian/merlian/cmd"

func main() {
	cmd.Execute()
}

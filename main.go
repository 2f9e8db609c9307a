package main

import "github.com/miniidp/miniidp/cmd"

func main() {
	cmd.Execute()
}

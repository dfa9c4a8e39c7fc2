package main

import "github.com/ggurov/local-llm/cmd"

func main() {
	cmd.Execute()
}

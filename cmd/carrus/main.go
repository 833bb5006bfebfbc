package main

import "github.com/matdotcx/carrus/cmd/carrus/cmd"

func main() {
	cmd.Execute()
}

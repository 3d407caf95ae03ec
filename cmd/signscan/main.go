package main

import "github.com/MeKo-Tech/signscan/cmd/signscan/cmd"

func main() {
	cmd.Execute()
}

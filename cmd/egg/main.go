package main

import "github.com/bingtaocn/egg/cmd/egg/cmd"

func main() {
	cmd.Execute()
}

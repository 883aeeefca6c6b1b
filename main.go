package main

import "github.com/fakeyudi/scanup/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/ptran/idla-person-reid/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/eizorerad/milhouse-sub002/internal/cmd"

func main() {
	cmd.Execute()
}

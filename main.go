package main

import "ebpfhollow/cmd"

func main() {
	cmd.Execute()
}

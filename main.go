package main

import "github.com/agrinova/apiserver/cmd"

func main() {
	cmd.Execute()
}

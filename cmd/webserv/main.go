package main

import "github.com/indigo-web/webserv/cmd/webserv/cmd"

func main() {
	cmd.Execute()
}

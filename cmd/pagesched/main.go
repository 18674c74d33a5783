package main

import "github.com/Swind/go-page-scheduler/cmd/pagesched/cli"

func main() {
	cli.Execute()
}

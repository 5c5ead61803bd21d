package main

import "github.com/devicelab-dev/element-scheduler/pkg/cli"

func main() {
	cli.Execute()
}

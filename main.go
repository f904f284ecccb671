package main

import "github.com/naka-gawa/grade-report/cmd"

func main() {
	cmd.Execute()
}

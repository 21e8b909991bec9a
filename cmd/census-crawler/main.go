package main

import "github.com/saeedabc/POI-Visit-Patterns-Analysis/cmd"

func main() {
	cmd.Execute()
}

package main

import "go.rowset.dev/core/cmd/rsctl/rsctlcmd"

func main() { rsctlcmd.Execute() }

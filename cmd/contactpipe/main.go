// Package main is the entry point for the contactpipe binary.
package main

import "github.com/immotrace/contact-pipeline/cmd"

func main() {
	cmd.Execute()
}

// Command pipewright runs dependency-ordered task workflows.
package main

func main() {
	Execute()
}

// Command mockpit runs the mock API server and its admin API.
package main

func main() {
	Execute()
}

// Command alfred runs the Alfred state-document service.
package main

import "github.com/rhymu8354/alfred/cmd/alfred/cmd"

func main() {
	cmd.Execute()
}

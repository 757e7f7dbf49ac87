/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package main

import "github.com/allbin/multi-serial/cmd"

func main() {
	cmd.Execute()
}

// Package main is a utility for generating bcrypt hashes of user passwords.
// The intake backend stores only bcrypt hashes — never raw passwords — so this
// tool is used when manually seeding the first admin account without running
// the full server. The output can be inserted directly into the users table.
package main

import (
	"fmt"
	"os"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(1)
	}

	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		panic(err)
	}
	fmt.Println(hash)
}

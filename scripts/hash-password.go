// Package main is a development utility for generating a bcrypt hash of a
// password. It prints the hash and a ready-to-run SQL UPDATE statement so
// developers can reset a local account's credential without running the full
// server flow. Do not use this against production databases — password changes
// there go through the API so they are audited and revoke open sessions.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <password>", os.Args[0])
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Password Hash Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nHash: %s\n", string(hashBytes))
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Update:")
	fmt.Println("==========================================================")
	fmt.Printf(`
UPDATE accounts
SET password_hash = '%s'
WHERE email = 'admin@dev.local';
`, string(hashBytes))
	fmt.Println("==========================================================")
}

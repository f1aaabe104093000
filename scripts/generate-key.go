// Package main is a development utility that generates the two shared secrets
// the server needs: the JWT signing secret and the request signing secret.
// It prints them as environment variable assignments ready to paste into a
// local .env file. Generate fresh values for every environment.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
)

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return hex.EncodeToString(b)
}

func main() {
	fmt.Println("==========================================================")
	fmt.Println("Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("SALES_SECURITY_JWT_SECRET=%s\n", randomHex(32))
	fmt.Printf("SALES_SECURITY_SIGNING_SECRET=%s\n", randomHex(32))
	fmt.Println("==========================================================")
	fmt.Println("The signing secret must also be configured in the web client.")
}

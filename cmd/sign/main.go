// Package main prints the X-Request-Timestamp and X-Request-Signature headers
// for a JSON body, for exercising the signed endpoints by hand:
//
//	SALES_SECURITY_SIGNING_SECRET=... sign '{"companyName":"Acme","companyDomain":"acme.com"}'
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pablocopete/IBM/internal/middleware"
	"github.com/pablocopete/IBM/internal/signing"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s '<json body>'\n", os.Args[0])
		os.Exit(2)
	}
	secret := os.Getenv("SALES_SECURITY_SIGNING_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "SALES_SECURITY_SIGNING_SECRET is not set")
		os.Exit(2)
	}

	var payload any
	if err := json.Unmarshal([]byte(os.Args[1]), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "body is not valid JSON: %v\n", err)
		os.Exit(1)
	}

	ts := time.Now().UnixMilli()
	sig, err := signing.Sign(payload, ts, secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d\n%s: %s\n", middleware.TimestampHeader, ts, middleware.SignatureHeader, sig)
}

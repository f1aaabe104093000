// Package main is a smoke test for a running server. It checks /health and
// then sends one company research request, signed when
// SALES_SECURITY_SIGNING_SECRET is set, and prints each status and body.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pablocopete/IBM/internal/middleware"
	"github.com/pablocopete/IBM/internal/signing"
)

const researchBody = `{"companyName":"Acme","companyDomain":"acme.com"}`

func main() {
	base := os.Getenv("API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 90 * time.Second}

	req, _ := http.NewRequest(http.MethodGet, base+"/health", nil)
	show(client, req)

	req, _ = http.NewRequest(http.MethodPost, base+"/api/v1/research-company", bytes.NewBufferString(researchBody))
	req.Header.Set("Content-Type", "application/json")
	if secret := os.Getenv("SALES_SECURITY_SIGNING_SECRET"); secret != "" {
		var payload any
		_ = json.Unmarshal([]byte(researchBody), &payload)
		ts := time.Now().UnixMilli()
		sig, err := signing.Sign(payload, ts, secret)
		if err != nil {
			fmt.Printf("Error signing: %v\n", err)
			return
		}
		req.Header.Set(middleware.TimestampHeader, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.SignatureHeader, sig)
	}
	show(client, req)
}

func show(client *http.Client, req *http.Request) {
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		return
	}

	fmt.Printf("%s %s -> %d\n", req.Method, req.URL.Path, resp.StatusCode)
	for _, h := range []string{middleware.HeaderRateLimitRemaining, middleware.RequestIDHeader} {
		if v := resp.Header.Get(h); v != "" {
			fmt.Printf("  %s: %s\n", h, v)
		}
	}
	fmt.Printf("%s\n\n", string(body))
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"safehands/crypto"
)

var (
	rpcEndpoint  = envOr("SAFEHANDS_RPC_URL", "http://localhost:8080")
	rpcAuthToken = strings.TrimSpace(os.Getenv("SAFEHANDS_RPC_TOKEN"))
)

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}
	switch os.Args[1] {
	case "escrow":
		os.Exit(runEscrowCommand(os.Args[2:], os.Stdout, os.Stderr))
	case "balance":
		os.Exit(runBalanceCommand(os.Args[2:], os.Stdout, os.Stderr))
	case "generate-key":
		os.Exit(runGenerateKey(os.Stdout, os.Stderr))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  safehands-cli <command> [flags]

Commands:
  escrow       Manage escrow agreements (deposit, approve, cancel, ...)
  balance      Query an account balance
  generate-key Generate a new key pair and print its address
`)
}

func runGenerateKey(stdout, stderr io.Writer) int {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to generate key: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Address:     %s\n", key.PubKey().Address().String())
	fmt.Fprintf(stdout, "Private key: %s\n", key.Hex())
	return 0
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires SAFEHANDS_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// escrowRPCCall is swapped out in tests.
var escrowRPCCall = callEscrowRPC

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "deposit":
		return runEscrowDeposit(args[1:], stdout, stderr)
	case "approve":
		return runEscrowAction("escrow_approve", "escrow approve", args[1:], stdout, stderr)
	case "cancel":
		return runEscrowAction("escrow_cancel", "escrow cancel", args[1:], stdout, stderr)
	case "dispute":
		return runEscrowAction("escrow_dispute", "escrow dispute", args[1:], stdout, stderr)
	case "claim-timeout":
		return runEscrowAction("escrow_claimTimeout", "escrow claim-timeout", args[1:], stdout, stderr)
	case "resolve":
		return runEscrowResolve(args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow deposit", stderr)
	var (
		client       string
		freelancer   string
		arbiter      string
		asset        string
		amount       string
		deadlineDays uint64
	)
	fs.StringVar(&client, "client", "", "client bech32 address (funds the escrow)")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer bech32 address")
	fs.StringVar(&arbiter, "arbiter", "", "optional arbiter bech32 address")
	fs.StringVar(&asset, "asset", "", "asset ticker symbol, e.g. XLM")
	fs.StringVar(&amount, "amount", "", "escrow amount as a decimal string")
	fs.Uint64Var(&deadlineDays, "deadline-days", 0, "days until the client can reclaim; 0 disables the timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(client) == "" || strings.TrimSpace(freelancer) == "" {
		return printEscrowError(stderr, "--client and --freelancer are required")
	}
	if strings.TrimSpace(asset) == "" {
		return printEscrowError(stderr, "--asset is required")
	}
	if strings.TrimSpace(amount) == "" {
		return printEscrowError(stderr, "--amount is required")
	}
	params := map[string]interface{}{
		"client":       strings.TrimSpace(client),
		"freelancer":   strings.TrimSpace(freelancer),
		"asset":        strings.TrimSpace(asset),
		"amount":       strings.TrimSpace(amount),
		"deadlineDays": deadlineDays,
	}
	if strings.TrimSpace(arbiter) != "" {
		params["arbiter"] = strings.TrimSpace(arbiter)
	}
	result, rpcErr, err := escrowRPCCall("escrow_deposit", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowAction(method, name string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	var (
		id     uint64
		caller string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "calling party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printEscrowError(stderr, "--id is required")
	}
	if strings.TrimSpace(caller) == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	params := map[string]interface{}{"id": id, "caller": strings.TrimSpace(caller)}
	result, rpcErr, err := escrowRPCCall(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowResolve(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow resolve", stderr)
	var (
		id     uint64
		caller string
		winner string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "arbiter bech32 address")
	fs.StringVar(&winner, "winner", "", "winning party bech32 address (client or freelancer)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printEscrowError(stderr, "--id is required")
	}
	if strings.TrimSpace(caller) == "" || strings.TrimSpace(winner) == "" {
		return printEscrowError(stderr, "--caller and --winner are required")
	}
	params := map[string]interface{}{
		"id":     id,
		"caller": strings.TrimSpace(caller),
		"winner": strings.TrimSpace(winner),
	}
	result, rpcErr, err := escrowRPCCall("escrow_resolve", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow get", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "escrow id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printEscrowError(stderr, "--id is required")
	}
	result, rpcErr, err := escrowRPCCall("escrow_get", map[string]interface{}{"id": id}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow list", stderr)
	var party string
	fs.StringVar(&party, "party", "", "party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(party) == "" {
		return printEscrowError(stderr, "--party is required")
	}
	result, rpcErr, err := escrowRPCCall("escrow_listByParty", map[string]interface{}{"party": strings.TrimSpace(party)}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow events", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "optional escrow id filter")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var params interface{}
	if id != 0 {
		params = map[string]interface{}{"id": id}
	}
	result, rpcErr, err := escrowRPCCall("escrow_listEvents", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runBalanceCommand(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("balance", stderr)
	var (
		address string
		asset   string
	)
	fs.StringVar(&address, "address", "", "account bech32 address")
	fs.StringVar(&asset, "asset", "", "asset ticker symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(address) == "" || strings.TrimSpace(asset) == "" {
		return printEscrowError(stderr, "--address and --asset are required")
	}
	params := map[string]interface{}{
		"address": strings.TrimSpace(address),
		"asset":   strings.TrimSpace(asset),
	}
	result, rpcErr, err := escrowRPCCall("bank_getBalance", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func printEscrowError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  safehands-cli escrow <command> [flags]

Commands:
  deposit       Fund a new escrow as the client
  approve       Record a party's approval; both approvals release the funds
  cancel        Cancel a funded escrow and refund the client
  dispute       Flag a funded escrow for arbitration
  resolve       Resolve a disputed escrow as the arbiter
  claim-timeout Reclaim funds for the client after the deadline
  get           Fetch escrow details by id
  list          List escrows a party participates in
  events        List lifecycle events, optionally filtered by id
`)
}

func callEscrowRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"id":     1,
		"method": method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

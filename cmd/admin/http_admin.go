package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stateCmd prints the plots and claims of a running server.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(call(http.MethodGet, adminURL(*baseURL, "state"), 5*time.Second))
}

// snapshotCmd asks a running server to write a terrain snapshot now.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(call(http.MethodPost, adminURL(*baseURL, "snapshot"), 10*time.Second))
}

func adminURL(base, endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1/" + endpoint
}

// call prints the response body and returns the process exit code.
func call(method, u string, timeout time.Duration) int {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}

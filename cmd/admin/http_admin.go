package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(doAdmin(http.MethodGet, *baseURL, "/admin/v1/state", nil, 5*time.Second))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(doAdmin(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 10*time.Second))
}

func destroyCmd(args []string) {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	x := fs.Float64("x", 0, "x")
	y := fs.Float64("y", 0, "y")
	z := fs.Float64("z", 0, "z")
	radius := fs.Float64("radius", 0, "blast radius (> 0)")
	_ = fs.Parse(args)

	if *radius <= 0 {
		fmt.Fprintln(os.Stderr, "missing -radius")
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]any{"pos": [3]float64{*x, *y, *z}, "radius": *radius})
	os.Exit(doAdmin(http.MethodPost, *baseURL, "/admin/v1/destroy", body, 10*time.Second))
}

func doAdmin(method, baseURL, path string, body []byte, timeout time.Duration) int {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, _ := http.NewRequest(method, u, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Print(string(b))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}

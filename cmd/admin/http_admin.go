package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	call(http.MethodGet, *baseURL, "/admin/v1/state", nil, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	call(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 10*time.Second)
}

func zeroAnglesCmd(args []string) {
	fs := flag.NewFlagSet("zero-angles", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	region := fs.String("region", "", "region id (empty for all regions)")
	_ = fs.Parse(args)
	call(http.MethodPost, *baseURL, "/admin/v1/zero_angles", url.Values{"region": {*region}}, 10*time.Second)
}

func reregisterCmd(args []string) {
	fs := flag.NewFlagSet("reregister", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	region := fs.String("region", "", "region id (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*region) == "" {
		fmt.Fprintln(os.Stderr, "missing -region")
		os.Exit(2)
	}
	call(http.MethodPost, *baseURL, "/admin/v1/reregister", url.Values{"region": {*region}}, 30*time.Second)
}

func unloadRegionCmd(args []string) {
	fs := flag.NewFlagSet("unload-region", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	region := fs.String("region", "", "region id (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*region) == "" {
		fmt.Fprintln(os.Stderr, "missing -region")
		os.Exit(2)
	}
	call(http.MethodPost, *baseURL, "/admin/v1/unload_region", url.Values{"region": {*region}}, 10*time.Second)
}

func call(method, baseURL, path string, q url.Values, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fail("request", err)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fail("request", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

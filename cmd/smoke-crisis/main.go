package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"civicguard.org/internal/auth"
)

type client struct {
	base   string
	bearer string
	http   *http.Client
}

func (c *client) call(method, path string, body any, want int) map[string]any {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %v", method, path, want, resp.StatusCode, out)
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	base := strings.TrimRight(envOr("CIVIC_API_URL", "http://localhost:8080"), "/")
	tokens, err := auth.NewTokens(os.Getenv("CIVIC_AUTH_SECRET"), auth.WithIssuer(os.Getenv("CIVIC_AUTH_ISSUER")))
	if err != nil {
		log.Fatalf("tokens: %v (set CIVIC_AUTH_SECRET to the API secret)", err)
	}
	bearer, _, err := tokens.Issue(auth.Actor{ID: "smoke-admin", Role: auth.RoleAdmin}, 5*time.Minute)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	c := &client{base: base, bearer: bearer, http: &http.Client{Timeout: 10 * time.Second}}

	state := c.call(http.MethodGet, "/v1/crisis/state", nil, http.StatusOK)
	if state["mode"] != "normal" {
		log.Fatalf("smoke test needs a platform in normal mode, found %v", state["mode"])
	}

	// Dual-authorized lockdown.
	begin := c.call(http.MethodPost, "/v1/crisis/activations", map[string]any{
		"category": "SystemBreach",
		"reason":   "smoke test lockdown",
	}, http.StatusCreated)
	handle, _ := begin["handle"].(string)
	countdown, err := time.ParseDuration(fmt.Sprint(begin["countdown"]))
	if err != nil {
		log.Fatalf("parse countdown %v: %v", begin["countdown"], err)
	}
	for slot, env := range map[string]string{"A": "CIVIC_SMOKE_CODE_A", "B": "CIVIC_SMOKE_CODE_B"} {
		c.call(http.MethodPost, "/v1/crisis/activations/"+handle+"/tokens", map[string]any{
			"slot":  slot,
			"token": envOr(env, "smoke-code-"+slot),
		}, http.StatusOK)
	}
	c.call(http.MethodPost, "/v1/crisis/activations/"+handle+"/countdown", nil, http.StatusAccepted)

	deadline := time.Now().Add(countdown + 5*time.Second)
	for {
		state = c.call(http.MethodGet, "/v1/crisis/state", nil, http.StatusOK)
		if state["mode"] == "lockdown" {
			break
		}
		if time.Now().After(deadline) {
			log.Fatalf("lockdown not committed after %s: %v", countdown, state)
		}
		time.Sleep(250 * time.Millisecond)
	}

	// Stand down.
	state = c.call(http.MethodPost, "/v1/crisis/deactivate", nil, http.StatusOK)
	if state["mode"] != "normal" {
		log.Fatalf("expected normal after deactivation, got %v", state["mode"])
	}
	logs := c.call(http.MethodGet, "/v1/crisis/log", nil, http.StatusOK)
	entries, _ := logs["entries"].([]any)
	if len(entries) < 2 {
		log.Fatalf("expected activation and resolution in the log, got %d entries", len(entries))
	}
	for _, raw := range entries[:2] {
		if e, _ := raw.(map[string]any); e["active"] == true {
			log.Fatalf("entry %v still active after deactivation", e["id"])
		}
	}

	fmt.Printf("✅ crisis smoke test passed: session=%s\n", handle)
}

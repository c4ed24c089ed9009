package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"StableWatch-Chain/sdk/go/stablewatch"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stablewatch.Token{
			AccessToken: "demo-token",
			ExpiresIn:   3600,
			TokenType:   "Bearer",
		})
	})
	mux.HandleFunc("/api/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]stablewatch.AgentInfo{{
			Config: stablewatch.AgentConfig{
				ID:      "stablecoin-monitor",
				Name:    "稳定币异常监控",
				Enabled: true,
				Schedule: &stablewatch.AgentSchedule{
					Type:         "interval",
					EveryMinutes: 5,
				},
			},
			Status: "idle",
		}})
	})
	mux.HandleFunc("/api/v1/agents/run", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stablewatch.RunResult{Success: true, Timestamp: time.Now().UTC()})
	})
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]stablewatch.Alert{{
			ID:        "alert-demo",
			AlertType: "large_mint",
			Severity:  "critical",
			Title:     "USDT 异常铸币",
			CreatedAt: time.Now().Unix(),
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := stablewatch.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, stablewatch.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	agents, err := client.ListAgents(ctx)
	if err != nil {
		panic(err)
	}
	for _, info := range agents {
		fmt.Printf("agent %s status=%s\n", info.Config.ID, info.Status)
	}

	result, err := client.RunAgent(ctx, "stablecoin-monitor")
	if err != nil {
		panic(err)
	}
	fmt.Printf("manual run success=%v\n", result.Success)

	alerts, err := client.ListAlerts(ctx, 10)
	if err != nil {
		panic(err)
	}
	for _, alert := range alerts {
		fmt.Printf("alert %s severity=%s title=%s\n", alert.ID, alert.Severity, alert.Title)
	}
}

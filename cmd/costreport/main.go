// Command costreport prints a session and electricity-cost summary from a
// running simulation server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type state struct {
	Running       bool    `json:"running"`
	Datetime      string  `json:"datetime"`
	TotalSeconds  float64 `json:"total_seconds"`
	Speed         float64 `json:"speed"`
	GridPeakLabel string  `json:"grid_peak_status"`
}

type costs struct {
	TotalCost float64 `json:"total_cost"`
	Currency  string  `json:"currency"`
	Count     int     `json:"count"`
	Entries   []struct {
		Timestamp time.Time `json:"timestamp"`
		Cost      float64   `json:"cost"`
		EnergyKWh float64   `json:"energy_kwh"`
		Tier      string    `json:"tier"`
	} `json:"entries"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "simulation server URL")
	showEntries := flag.Bool("entries", false, "print per-point ledger entries")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	var s state
	fetch(client, *baseURL+"/api/simulation/state", &s)

	costsURL := *baseURL + "/api/costs"
	if *showEntries {
		costsURL += "?entries=true"
	}
	var c costs
	fetch(client, costsURL, &c)

	fmt.Printf("Session\n")
	fmt.Printf("  running:        %v\n", s.Running)
	fmt.Printf("  simulated time: %s (%.0fs elapsed)\n", s.Datetime, s.TotalSeconds)
	fmt.Printf("  speed:          %.1fx\n", s.Speed)
	fmt.Printf("  tariff period:  %s\n", s.GridPeakLabel)

	fmt.Printf("\nCosts\n")
	fmt.Printf("  points priced:  %d\n", c.Count)
	fmt.Printf("  total:          %.4f %s\n", c.TotalCost, c.Currency)

	if *showEntries {
		// Aggregate per tier for a compact breakdown.
		type bucket struct {
			cost   float64
			energy float64
			count  int
		}
		tiers := map[string]*bucket{}
		for _, e := range c.Entries {
			b, ok := tiers[e.Tier]
			if !ok {
				b = &bucket{}
				tiers[e.Tier] = b
			}
			b.cost += e.Cost
			b.energy += e.EnergyKWh
			b.count++
		}
		fmt.Printf("\n  %-12s %10s %12s %8s\n", "tier", "points", "energy kWh", "cost")
		for tier, b := range tiers {
			fmt.Printf("  %-12s %10d %12.4f %8.4f\n", tier, b.count, b.energy, b.cost)
		}
	}
}

func fetch(client *http.Client, url string, dst any) {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("Fetching %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Fetching %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		log.Fatalf("Decoding %s: %v", url, err)
	}
}

// Command example demonstrates the embedded API: it writes a few
// minutes of synthetic host metrics into a temporary database and runs
// some aggregate queries over them.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/talnadb/talna/pkg/talna"
)

func main() {
	dir, err := os.MkdirTemp("", "talna-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := talna.Open(talna.Options{Path: dir})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	hosts := []string{"web-1", "web-2", "db-1"}
	envs := map[string]string{"web-1": "prod", "web-2": "prod", "db-1": "staging"}

	// Ten minutes of samples, one per host per second.
	end := uint64(time.Now().UnixNano())
	start := end - uint64(10*time.Minute)
	for ts := start; ts <= end; ts += uint64(time.Second) {
		for i, host := range hosts {
			load := 20 + float64(i)*15 + 10*float64((ts/uint64(time.Second))%7)/7
			err := db.WriteAt("cpu.load", load, map[string]string{
				"host": host,
				"env":  envs[host],
			}, ts)
			if err != nil {
				log.Fatal(err)
			}
		}
	}

	ctx := context.Background()

	groups, err := db.Query("cpu.load").
		Filter("env:prod").
		GroupBy("host").
		Aggregate(talna.Avg).
		Start(start).End(end).
		Granularity(uint64(time.Minute)).
		Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	printGroups("avg cpu.load of env:prod by host, 1m buckets", groups)

	groups, err = db.Query("cpu.load").
		Filter("NOT env:prod").
		Aggregate(talna.Max).
		Start(start).End(end).
		Granularity(uint64(5 * time.Minute)).
		Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	printGroups("max cpu.load outside prod, 5m buckets", groups)
}

func printGroups(title string, groups talna.Groups) {
	fmt.Println(title)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s:\n", k)
		for _, b := range groups[k] {
			fmt.Printf("    %s  %.2f\n", time.Unix(0, int64(b.Start)).Format(time.TimeOnly), b.Value)
		}
	}
}

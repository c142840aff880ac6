// Command wsrep-harness drives a go-wsrep Engine through a synthetic
// workload and reports pass/fail: parse flags, construct, run, report,
// exit 0 on success.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/behrlich/go-wsrep"
)

func main() {
	var (
		trxCount   = flag.Int("trxs", 1000, "number of synthetic transactions to drive through the engine")
		keyspace   = flag.Int("keyspace", 64, "number of distinct keys the synthetic transactions reference")
		gcacheDir  = flag.String("gcache-dir", "", "gcache directory (default: a temp dir)")
		verbose    = flag.Bool("v", false, "verbose output")
		seed       = flag.Int64("seed", 1, "PRNG seed for workload generation")
	)
	flag.Parse()

	dir := *gcacheDir
	if dir == "" {
		d, err := os.MkdirTemp("", "wsrep-harness-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsrep-harness: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(d)
		dir = d
	}

	cb := wsrep.NewMockHostCallbacks()
	params := wsrep.DefaultEngineParams(cb, dir)
	params.LogConflicts = *verbose

	engine, err := wsrep.NewEngine(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsrep-harness: failed to create engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))

	var (
		committed int
		conflicts int
		failures  int
	)

	for i := 0; i < *trxCount; i++ {
		trx := wsrep.TrxID(i + 1)
		key := fmt.Sprintf("row-%d", rng.Intn(*keyspace))

		if err := engine.AppendKey(trx, [][]byte{[]byte(key)}, wsrep.KeyExclusive); err != nil {
			fmt.Fprintf(os.Stderr, "wsrep-harness: append_key failed: %v\n", err)
			failures++
			continue
		}

		payload := []byte(fmt.Sprintf("trx-%d", i))
		outcome, err := engine.PreCommit(ctx, trx, payload)
		switch outcome {
		case wsrep.OutcomeOK:
			if err := engine.PostCommit(trx); err != nil {
				fmt.Fprintf(os.Stderr, "wsrep-harness: post_commit failed: %v\n", err)
				failures++
				continue
			}
			committed++
		case wsrep.OutcomeCertFailed:
			if err := engine.PostRollback(trx); err != nil {
				fmt.Fprintf(os.Stderr, "wsrep-harness: post_rollback failed: %v\n", err)
				failures++
				continue
			}
			conflicts++
		default:
			fmt.Fprintf(os.Stderr, "wsrep-harness: unexpected outcome %s for trx %d: %v\n", outcome, trx, err)
			failures++
		}

		if *verbose && i%100 == 0 {
			status := engine.StatusGet()
			fmt.Printf("progress: trx=%d committed=%d conflicts=%d cert_index=%d\n",
				i, committed, conflicts, status.CertIndexSize)
		}
	}

	status := engine.StatusGet()
	fmt.Printf("done: committed=%d conflicts=%d failures=%d uptime=%s cert_position=%d cert_index_size=%d\n",
		committed, conflicts, failures, time.Duration(status.Metrics.UptimeNs), status.CertPosition, status.CertIndexSize)

	if failures > 0 {
		os.Exit(1)
	}
	os.Exit(0)
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"execution-core/internal/ledger"
	"execution-core/internal/ops"
	"execution-core/internal/recon"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	ledgerPath := flag.String("ledger", "", "Ledger snapshot JSON")
	externalPath := flag.String("external", "", "External venue snapshot JSON")
	topN := flag.Int("top-n", 20, "Diff count carried in the summary")
	sessionID := flag.String("session", "", "Session id to stamp on the summary")
	flag.Parse()

	if *ledgerPath == "" || *externalPath == "" {
		log.Fatal("both -ledger and -external are required")
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	internal, err := ledger.ReadSnapshot(*ledgerPath)
	if err != nil {
		log.Fatalf("read ledger snapshot failed: %v", err)
	}
	external, err := recon.ReadExternalSnapshot(*externalPath)
	if err != nil {
		log.Fatalf("read external snapshot failed: %v", err)
	}

	engine := recon.NewEngine(loaded.Registry, loaded.Thresholds)
	diffs, err := engine.Reconcile(internal, external)
	if err != nil {
		log.Fatalf("reconcile failed: %v", err)
	}
	summary := engine.CreateSummary(uuid.NewString(), *sessionID, diffs, *topN)

	out, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("marshal summary failed: %v", err)
	}
	fmt.Println(string(out))

	if summary.HasFail || summary.HasCritical {
		os.Exit(2)
	}
}

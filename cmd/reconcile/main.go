package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/trm-platform/trm-backend/internal/config"
	"github.com/trm-platform/trm-backend/internal/db"
	"github.com/trm-platform/trm-backend/internal/services/ledger"
	"github.com/trm-platform/trm-backend/internal/services/payment"
	"github.com/trm-platform/trm-backend/internal/services/reconcile"
)

// One-shot reconciliation run, for cron or manual use. The API process also
// runs the same batch on its own interval.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	gateway := payment.NewClient(cfg)
	ledgerSvc := ledger.NewService(gdb, gateway)
	store := reconcile.NewGormStore(gdb, ledgerSvc)

	worker := reconcile.NewWorker(store, gateway,
		time.Duration(cfg.StaleAfterMin)*time.Minute,
		time.Duration(cfg.ReconcileDelayMs)*time.Millisecond,
	)

	report, err := worker.RunOnce()
	if err != nil {
		log.Fatal("reconciliation batch failed:", err)
	}

	fmt.Printf("checked=%d updated=%d skipped=%d failed=%d\n",
		report.Checked, report.Updated, report.Skipped, report.Failed)
	for _, e := range report.Errors {
		fmt.Printf("  %s: %s\n", e.TransactionNumber, e.Err)
	}

	if report.Failed > 0 {
		os.Exit(1)
	}
}

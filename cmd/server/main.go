/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the circulation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build circulation policy and engine
  4. Configure HTTP router and sweep scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: circulation.db)
                   Use ":memory:" for in-memory database
  -sweep-interval  Interval between overdue/expiry sweeps (default: 1h)
  -loan-days       Loan period in days
  -max-loans       Max concurrent active loans per user
  -fine-rate       Daily fine rate for overdue returns
  -max-renewals    Max renewals per loan
  -renewal-days    Days added to the due date per renewal
  -hold-days       Reservation hold window in days
  -grace-days      Days past due during which renewal is still allowed

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/library.db"

  # Run with in-memory database and a short sweep interval
  ./server -db=":memory:" -sweep-interval=1m

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Sweep scheduler
  - circulation/engine.go: Business rules
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/api"
	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "circulation.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", 1*time.Hour, "interval between sweeps")

	defaults := circulation.DefaultPolicy()
	loanDays := flag.Int("loan-days", defaults.LoanPeriodDays, "loan period in days")
	maxLoans := flag.Int("max-loans", defaults.MaxActiveLoans, "max active loans per user")
	fineRate := flag.String("fine-rate", defaults.DailyFineRate.String(), "daily overdue fine rate")
	maxRenewals := flag.Int("max-renewals", defaults.MaxRenewals, "max renewals per loan")
	renewalDays := flag.Int("renewal-days", defaults.RenewalExtensionDays, "days added per renewal")
	holdDays := flag.Int("hold-days", defaults.ReservationHoldDays, "reservation hold window in days")
	graceDays := flag.Int("grace-days", defaults.RenewalGraceDays, "renewal grace period in days")
	flag.Parse()

	rate, err := decimal.NewFromString(*fineRate)
	if err != nil {
		log.Fatalf("Invalid -fine-rate %q: %v", *fineRate, err)
	}

	policy := circulation.Policy{
		LoanPeriodDays:       *loanDays,
		MaxActiveLoans:       *maxLoans,
		DailyFineRate:        rate,
		MaxRenewals:          *maxRenewals,
		RenewalExtensionDays: *renewalDays,
		ReservationHoldDays:  *holdDays,
		RenewalGraceDays:     *graceDays,
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize engine
	engine, err := circulation.NewEngine(store, policy,
		circulation.WithAvailabilityHook(func(_ context.Context, bookID circulation.BookID) error {
			log.Printf("[Notify] Book %s available for next reservation holder", bookID)
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	// Initialize handler and router
	handler := api.NewHandler(store, engine)
	router := api.NewRouter(handler)

	// Start sweep scheduler
	scheduler := api.NewSweepScheduler(engine)
	scheduler.CheckInterval = *sweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

/**
 * @description
 * Operator tool to deactivate a Dwolla customer by id. Used for orphaned
 * customers that reconciliation parks as `manual`: a remote customer that was
 * created but lost the race to be recorded locally.
 *
 * Usage:
 *   go run ./cmd/deactivate-customer <dwolla-customer-id>
 *
 * Example:
 *   go run ./cmd/deactivate-customer 9c1e5f0e-6f4d-4b6e-8a0a-1f0a2b3c4d5e
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads .env files.
 * - internal/config, pkg/dwollaclient: Dwolla credentials and API client.
 */

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Djonahuti/u-bank/internal/config"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: go run ./cmd/deactivate-customer <dwolla-customer-id>")
		os.Exit(1)
	}
	customerID := strings.TrimSpace(os.Args[1])

	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.DwollaKey == "" || cfg.DwollaSecret == "" {
		logger.Fatal("DWOLLA_KEY and DWOLLA_SECRET are required")
	}
	fmt.Println("Using Dwolla API:", cfg.DwollaBaseURL)

	client := dwollaclient.NewClient(cfg.DwollaBaseURL, cfg.DwollaKey, cfg.DwollaSecret, cfg.RemoteCallTimeout(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Printf("Fetching customer information for ID: %s\n", customerID)
	customer, err := client.GetCustomer(ctx, customerID)
	if err != nil {
		logger.Fatal("failed to fetch customer", zap.String("dwolla_customer_id", customerID), zap.Error(err))
	}

	fmt.Printf("Customer Details:\n")
	fmt.Printf("  ID: %s\n", customer.ID)
	fmt.Printf("  Type: %s\n", customer.Type)
	fmt.Printf("  Name: %s %s\n", customer.FirstName, customer.LastName)
	fmt.Printf("  Email: %s\n", customer.Email)
	fmt.Printf("  Status: %s\n", customer.Status)
	fmt.Printf("  Created: %s\n", customer.Created)

	if customer.Status == "deactivated" {
		fmt.Println("Customer is already deactivated.")
		return
	}

	fmt.Printf("\nAre you sure you want to deactivate this customer? (yes/no): ")
	confirmation, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if strings.TrimSpace(confirmation) != "yes" {
		fmt.Println("Deactivation cancelled.")
		return
	}

	fmt.Printf("Deactivating customer %s...\n", customerID)
	if err := client.DeactivateCustomer(ctx, customerID); err != nil {
		logger.Fatal("failed to deactivate customer", zap.String("dwolla_customer_id", customerID), zap.Error(err))
	}

	fmt.Printf("Successfully deactivated customer %s\n", customerID)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appfuel/storebridge/internal/storekit"
	"github.com/appfuel/storebridge/internal/storekit/memory"
)

// The simulator stands in for a mobile client. It runs purchases through the
// in-memory payment queue, restores them, and reports each result to the
// verification endpoint the way a device would.
func main() {
	serverURL := getEnv("SERVER_URL", "http://localhost:8080")
	userID := getEnv("SIMULATOR_USER_ID", "usr-simulator")

	queue := memory.NewQueue(
		storekit.Product{ID: "com.appfuel.demo.premium", Title: "Premium", Price: 499, Currency: "USD"},
		storekit.Product{ID: "com.appfuel.demo.coins", Title: "Coin Pack", Price: 199, Currency: "USD"},
	)

	reporter := newReporter(serverURL, userID)

	updates := make(chan storekit.PurchaseDetails, 16)
	conn, err := storekit.NewConnection(queue, storekit.Config{
		Listener: func(details storekit.PurchaseDetails) {
			updates <- details
		},
	})
	if err != nil {
		log.Fatalf("Failed to open store connection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	products, err := conn.Products(ctx, []string{"com.appfuel.demo.premium", "com.appfuel.demo.coins", "com.appfuel.demo.ghost"})
	if err != nil {
		log.Fatalf("Product query failed: %v", err)
	}
	log.Printf("Catalog: %d products, %d unknown ids", len(products.Products), len(products.NotFoundIDs))

	for _, product := range products.Products {
		if err := conn.Buy(storekit.Payment{ProductID: product.ID, Quantity: 1, ApplicationUserName: userID}); err != nil {
			log.Fatalf("Buy %s failed: %v", product.ID, err)
		}
		drainUpdates(updates, reporter)
	}

	restored, err := conn.QueryPastPurchases(ctx, userID)
	if err != nil {
		log.Fatalf("Restore failed: %v", err)
	}
	log.Printf("Restored %d past purchases", len(restored))
	if err := reporter.reportRestore(ctx, restored); err != nil {
		log.Fatalf("Failed to report restored purchases: %v", err)
	}

	log.Println("Simulation complete")
}

func drainUpdates(updates <-chan storekit.PurchaseDetails, reporter *reporter) {
	for {
		select {
		case details := <-updates:
			log.Printf("Purchase update: %s %s", details.ProductID, details.Status)
			if details.Status == storekit.StatusPurchased {
				if err := reporter.reportPurchase(context.Background(), details); err != nil {
					log.Printf("Failed to report purchase %s: %v", details.PurchaseID, err)
				}
			}
			if details.Error != nil {
				log.Printf("Purchase error: %v", details.Error)
			}
		default:
			return
		}
	}
}

// reporter submits purchase results to the verification API with a
// self-issued bearer token, mirroring what a signed-in device sends.
type reporter struct {
	client    *http.Client
	serverURL string
	userID    string
}

func newReporter(serverURL, userID string) *reporter {
	return &reporter{
		client:    &http.Client{Timeout: 10 * time.Second},
		serverURL: serverURL,
		userID:    userID,
	}
}

func (r *reporter) reportPurchase(ctx context.Context, details storekit.PurchaseDetails) error {
	return r.post(ctx, "/v1/purchases/verify", map[string]any{
		"transactionId": details.PurchaseID,
		"productId":     details.ProductID,
		"receipt":       details.Receipt,
	})
}

func (r *reporter) reportRestore(ctx context.Context, purchases []storekit.PurchaseDetails) error {
	if len(purchases) == 0 {
		return nil
	}
	entries := make([]map[string]any, len(purchases))
	for i, details := range purchases {
		entries[i] = map[string]any{
			"transactionId": details.PurchaseID,
			"productId":     details.ProductID,
			"receipt":       details.Receipt,
		}
	}
	return r.post(ctx, "/v1/purchases/restore", map[string]any{"purchases": entries})
}

func (r *reporter) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	token, err := r.bearerToken()
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, msg)
	}
	return nil
}

func (r *reporter) bearerToken() (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET environment variable is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": r.userID,
		"email":  r.userID + "@simulator.local",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

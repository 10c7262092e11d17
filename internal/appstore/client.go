// Package appstore is a thin client for the App Store Server API. It signs
// its own ES256 client tokens and decodes the signed transaction payloads the
// API returns. Payloads are trusted on the strength of the direct TLS channel
// to Apple; certificate-chain verification of the JWS is out of scope here.
package appstore

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	productionBaseURL = "https://api.storekit.itunes.apple.com"
	sandboxBaseURL    = "https://api.storekit-sandbox.itunes.apple.com"

	EnvironmentProduction = "Production"
	EnvironmentSandbox    = "Sandbox"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found in any environment")
)

// Transaction is the decoded payload of a signedTransactionInfo JWS.
type Transaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	AppAccountToken       string `json:"appAccountToken"`
	Type                  string `json:"type"`
	Environment           string `json:"environment"`
	Quantity              int    `json:"quantity"`
	// PurchaseDate is milliseconds since the Unix epoch.
	PurchaseDate int64 `json:"purchaseDate"`
}

// PurchasedAt converts the millisecond purchase date to a time.Time.
func (t Transaction) PurchasedAt() time.Time {
	return time.UnixMilli(t.PurchaseDate).UTC()
}

type Config struct {
	IssuerID   string
	BundleID   string
	KeyID      string
	PrivateKey string

	HTTPClient *http.Client

	// ProductionURL and SandboxURL override the App Store hosts, for tests.
	ProductionURL string
	SandboxURL    string
}

// Client talks to the App Store Server API. The production host is queried
// first; a not-found answer is retried against sandbox, since client builds
// under review produce sandbox transactions.
type Client struct {
	issuerID string
	bundleID string
	keyID    string
	key      *ecdsa.PrivateKey

	client        *http.Client
	productionURL string
	sandboxURL    string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.IssuerID) == "" || strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("appstore: issuer id, key id and private key are required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("appstore: parse private key: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		issuerID:      strings.TrimSpace(cfg.IssuerID),
		bundleID:      strings.TrimSpace(cfg.BundleID),
		keyID:         strings.TrimSpace(cfg.KeyID),
		key:           key,
		client:        client,
		productionURL: cfg.ProductionURL,
		sandboxURL:    cfg.SandboxURL,
	}
	if c.productionURL == "" {
		c.productionURL = productionBaseURL
	}
	if c.sandboxURL == "" {
		c.sandboxURL = sandboxBaseURL
	}
	return c, nil
}

// VerifyTransaction fetches the signed transaction record for transactionID
// and returns its decoded payload after checking the transaction and bundle
// identifiers match.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return Transaction{}, fmt.Errorf("appstore: transaction id is required")
	}

	signed, env, err := c.fetchSignedTransaction(ctx, transactionID)
	if err != nil {
		return Transaction{}, err
	}

	txn, err := decodeSignedPayload(signed)
	if err != nil {
		return Transaction{}, fmt.Errorf("appstore: decode transaction %s: %w", transactionID, err)
	}
	if txn.TransactionID == "" {
		txn.TransactionID = transactionID
	}
	if txn.TransactionID != transactionID {
		return Transaction{}, fmt.Errorf("appstore: transaction id mismatch: expected %s got %s", transactionID, txn.TransactionID)
	}
	if c.bundleID != "" && txn.BundleID != "" && txn.BundleID != c.bundleID {
		return Transaction{}, fmt.Errorf("appstore: bundle id mismatch: %s", txn.BundleID)
	}
	if txn.Environment == "" {
		txn.Environment = env
	}
	return txn, nil
}

func (c *Client) fetchSignedTransaction(ctx context.Context, transactionID string) (signed, env string, err error) {
	hosts := []struct {
		base string
		env  string
	}{
		{c.productionURL, EnvironmentProduction},
		{c.sandboxURL, EnvironmentSandbox},
	}

	for _, host := range hosts {
		signed, err = c.fetchFrom(ctx, host.base, transactionID)
		if err == nil {
			return signed, host.env, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return "", "", err
		}
	}
	return "", "", ErrTransactionNotFound
}

func (c *Client) fetchFrom(ctx context.Context, base, transactionID string) (string, error) {
	token, err := c.authToken()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/inApps/v1/transactions/%s", base, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("appstore: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrTransactionNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("appstore: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var body struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("appstore: decode response: %w", err)
	}
	if strings.TrimSpace(body.SignedTransactionInfo) == "" {
		return "", fmt.Errorf("appstore: empty signedTransactionInfo")
	}
	return body.SignedTransactionInfo, nil
}

// authToken issues a short-lived ES256 client token for the API.
func (c *Client) authToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": c.bundleID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("appstore: sign client token: %w", err)
	}
	return signed, nil
}

// decodeSignedPayload extracts the claims segment of a JWS without verifying
// the signature.
func decodeSignedPayload(signed string) (Transaction, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return Transaction{}, fmt.Errorf("malformed JWS: %d segments", len(parts))
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Transaction{}, fmt.Errorf("decode payload segment: %w", err)
	}
	var txn Transaction
	if err := json.Unmarshal(payload, &txn); err != nil {
		return Transaction{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return txn, nil
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}

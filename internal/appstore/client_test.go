package appstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

// signedPayload builds a JWS-shaped token around the given claims. The client
// does not verify the signature, so a placeholder segment is enough.
func signedPayload(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return header + "." + payload + ".sig"
}

func newTestClient(t *testing.T, productionURL, sandboxURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		IssuerID:      "issuer-1",
		BundleID:      "com.appfuel.demo",
		KeyID:         "KEY1",
		PrivateKey:    testPrivateKeyPEM(t),
		ProductionURL: productionURL,
		SandboxURL:    sandboxURL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func transactionResponse(t *testing.T, claims map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) < 20 {
			t.Errorf("missing client token, got %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"signedTransactionInfo": signedPayload(t, claims),
		})
	}
}

func TestVerifyTransactionProduction(t *testing.T) {
	purchase := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	prod := httptest.NewServer(transactionResponse(t, map[string]any{
		"transactionId":         "2000000123",
		"originalTransactionId": "2000000100",
		"bundleId":              "com.appfuel.demo",
		"productId":             "com.appfuel.demo.premium",
		"environment":           "Production",
		"quantity":              1,
		"purchaseDate":          purchase.UnixMilli(),
	}))
	defer prod.Close()
	sandbox := httptest.NewServer(http.NotFoundHandler())
	defer sandbox.Close()

	client := newTestClient(t, prod.URL, sandbox.URL)
	txn, err := client.VerifyTransaction(context.Background(), "2000000123")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if txn.ProductID != "com.appfuel.demo.premium" {
		t.Errorf("product = %s", txn.ProductID)
	}
	if txn.OriginalTransactionID != "2000000100" {
		t.Errorf("original transaction = %s", txn.OriginalTransactionID)
	}
	if !txn.PurchasedAt().Equal(purchase) {
		t.Errorf("purchased at = %s, want %s", txn.PurchasedAt(), purchase)
	}
}

func TestVerifyTransactionFallsBackToSandbox(t *testing.T) {
	prod := httptest.NewServer(http.NotFoundHandler())
	defer prod.Close()
	sandbox := httptest.NewServer(transactionResponse(t, map[string]any{
		"transactionId": "42",
		"bundleId":      "com.appfuel.demo",
		"productId":     "com.appfuel.demo.coins",
	}))
	defer sandbox.Close()

	client := newTestClient(t, prod.URL, sandbox.URL)
	txn, err := client.VerifyTransaction(context.Background(), "42")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if txn.Environment != EnvironmentSandbox {
		t.Errorf("environment = %s, want %s", txn.Environment, EnvironmentSandbox)
	}
}

func TestVerifyTransactionNotFoundAnywhere(t *testing.T) {
	prod := httptest.NewServer(http.NotFoundHandler())
	defer prod.Close()
	sandbox := httptest.NewServer(http.NotFoundHandler())
	defer sandbox.Close()

	client := newTestClient(t, prod.URL, sandbox.URL)
	_, err := client.VerifyTransaction(context.Background(), "42")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestVerifyTransactionBundleMismatch(t *testing.T) {
	prod := httptest.NewServer(transactionResponse(t, map[string]any{
		"transactionId": "42",
		"bundleId":      "com.other.app",
		"productId":     "com.other.app.premium",
	}))
	defer prod.Close()

	client := newTestClient(t, prod.URL, prod.URL)
	if _, err := client.VerifyTransaction(context.Background(), "42"); err == nil {
		t.Fatal("expected bundle mismatch error")
	}
}

func TestVerifyTransactionIDMismatch(t *testing.T) {
	prod := httptest.NewServer(transactionResponse(t, map[string]any{
		"transactionId": "99",
		"bundleId":      "com.appfuel.demo",
	}))
	defer prod.Close()

	client := newTestClient(t, prod.URL, prod.URL)
	if _, err := client.VerifyTransaction(context.Background(), "42"); err == nil {
		t.Fatal("expected transaction id mismatch error")
	}
}

func TestDecodeSignedPayloadRejectsMalformedJWS(t *testing.T) {
	if _, err := decodeSignedPayload("only.two"); err == nil {
		t.Error("expected an error for a two-segment token")
	}
	if _, err := decodeSignedPayload("a.!!!.c"); err == nil {
		t.Error("expected an error for invalid base64")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected an error without credentials")
	}
	if _, err := NewClient(Config{IssuerID: "i", KeyID: "k", PrivateKey: "not a key"}); err == nil {
		t.Error("expected an error for a malformed private key")
	}
}

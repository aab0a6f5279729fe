//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	pconfig "github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/config"
	pfirestore "github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/firestore"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

func TestProductAndOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := func(id string, stock int64) {
		t.Helper()
		doc := map[string]any{
			"name":      "Product " + id,
			"unitPrice": int64(12500),
			"stock":     stock,
			"active":    true,
			"createdAt": now,
			"updatedAt": now,
		}
		if _, err := client.Collection(productsCollection).Doc(id).Set(ctx, doc); err != nil {
			t.Fatalf("seed product %s: %v", id, err)
		}
	}
	seed("prod-a", 5)
	seed("prod-b", 1)

	// All-or-nothing: prod-b is short, so prod-a must stay untouched.
	err = products.ReserveStock(ctx, []repositories.StockLine{
		{ProductID: "prod-a", Quantity: 2},
		{ProductID: "prod-b", Quantity: 2},
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	productA, err := products.FindByID(ctx, "prod-a")
	if err != nil {
		t.Fatalf("find prod-a: %v", err)
	}
	if productA.Stock != 5 {
		t.Fatalf("expected prod-a stock untouched at 5, got %d", productA.Stock)
	}

	if err := products.ReserveStock(ctx, []repositories.StockLine{{ProductID: "prod-a", Quantity: 2}}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	productA, _ = products.FindByID(ctx, "prod-a")
	if productA.Stock != 3 {
		t.Fatalf("expected stock 3 after reserve, got %d", productA.Stock)
	}

	if err := products.RestoreStock(ctx, []repositories.StockLine{{ProductID: "prod-a", Quantity: 2}}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	productA, _ = products.FindByID(ctx, "prod-a")
	if productA.Stock != 5 {
		t.Fatalf("expected stock 5 after restore, got %d", productA.Stock)
	}

	if _, err := products.AdjustStock(ctx, "prod-b", -5); err == nil {
		t.Fatalf("expected negative stock adjustment to fail")
	}

	order := domain.Order{
		OrderID:       "ord-1001",
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodCOD,
		Status:        domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prod-a", Name: "Product prod-a", UnitPrice: 12500, Quantity: 2, LineTotal: 25000},
		},
		Pricing:       domain.Pricing{Subtotal: 25000, Total: 25000},
		StatusHistory: []domain.StatusChange{{To: domain.OrderStatusPending, Actor: "user-1", At: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	err = orders.Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate order id, got %v", err)
	}

	order.Status = domain.OrderStatusAssigned
	order.UpdatedAt = now.Add(time.Minute)
	if err := orders.UpdateWithStatus(ctx, order, domain.OrderStatusPending); err != nil {
		t.Fatalf("update with status: %v", err)
	}

	// Stored status is now assigned; another pending-conditioned update must conflict.
	err = orders.UpdateWithStatus(ctx, order, domain.OrderStatusPending)
	repoErr = nil
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected stale status conflict, got %v", err)
	}

	listed, err := orders.List(ctx, repositories.OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(listed) != 1 || listed[0].OrderID != "ord-1001" {
		t.Fatalf("unexpected list result: %+v", listed)
	}

	if err := orders.Delete(ctx, "ord-1001"); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	err = orders.Delete(ctx, "ord-1001")
	repoErr = nil
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

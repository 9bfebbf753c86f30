//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/sokomart/api/internal/platform/config"
	pfirestore "github.com/sokomart/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type storeProfile struct {
	Name       string `firestore:"name"`
	OrderCount int    `firestore:"orderCount"`
}

// Runs the provider and BaseRepository against a dockerised Firestore
// emulator, covering the same read, update, query, and transaction
// paths the store and order repositories rely on.
func TestProviderRoundTrip(t *testing.T) {
	provider, ctx := bootEmulatorProvider(t)

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("dial emulator: %v", err)
	}
	if client == nil {
		t.Fatal("provider returned nil client")
	}

	stores := pfirestore.NewBaseRepository[storeProfile](provider, "stores")

	if err := stores.Set(ctx, "st_bola", storeProfile{Name: "Bola Stores", OrderCount: 1}); err != nil {
		t.Fatalf("set store: %v", err)
	}

	doc, err := stores.Get(ctx, "st_bola")
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if doc.ID != "st_bola" || doc.Data.Name != "Bola Stores" || doc.Data.OrderCount != 1 {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("expected update time to be set")
	}

	if err := stores.Update(ctx, "st_bola", []firestore.Update{{Path: "orderCount", Value: 2}}); err != nil {
		t.Fatalf("update store: %v", err)
	}
	doc, err = stores.Get(ctx, "st_bola")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if doc.Data.OrderCount != 2 {
		t.Fatalf("orderCount = %d, want 2", doc.Data.OrderCount)
	}

	docs, err := stores.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query stores: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 store, got %d", len(docs))
	}

	_, err = stores.Get(ctx, "st_missing")
	var classified *pfirestore.Error
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("expected not-found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := stores.DocumentRef(ctx, "st_bola")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var profile storeProfile
		if err := snap.DataTo(&profile); err != nil {
			return err
		}
		profile.OrderCount++
		return tx.Set(ref, profile)
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	doc, err = stores.Get(ctx, "st_bola")
	if err != nil {
		t.Fatalf("get after transaction: %v", err)
	}
	if doc.Data.OrderCount != 3 {
		t.Fatalf("orderCount = %d, want 3 after transaction", doc.Data.OrderCount)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func bootEmulatorProvider(t *testing.T) (*pfirestore.Provider, context.Context) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := exec.CommandContext(pingCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	containerID := strings.TrimSpace(string(out))
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("firestore emulator at %s not ready: %v", endpoint, err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "sokomart-platform-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return provider, ctx
}

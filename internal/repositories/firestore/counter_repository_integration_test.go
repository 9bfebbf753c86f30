//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	pconfig "github.com/sokomart/api/internal/platform/config"
	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/repositories"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// Exercises order-number allocation against a real Firestore emulator:
// concurrent checkouts must receive a gap-free sequence, and a capped
// sequence must report exhaustion once it runs out.
func TestCounterRepositoryAllocatesOrderNumbers(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	repo, ctx := newEmulatorCounterRepo(t)

	t.Run("concurrent allocations are gap-free", func(t *testing.T) {
		const checkouts = 16
		numbers := make([]int64, checkouts)
		var wg sync.WaitGroup
		wg.Add(checkouts)
		for i := 0; i < checkouts; i++ {
			go func(idx int) {
				defer wg.Done()
				value, err := repo.Next(ctx, "orders:2026", 1)
				if err != nil {
					t.Errorf("allocation %d: %v", idx, err)
					return
				}
				numbers[idx] = value
			}(i)
		}
		wg.Wait()

		sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
		for i, got := range numbers {
			if want := int64(i + 1); got != want {
				t.Fatalf("order number at position %d: want %d, got %d", i, want, got)
			}
		}
	})

	t.Run("capped sequence reports exhaustion", func(t *testing.T) {
		cap := int64(3)
		start := int64(0)
		if err := repo.Configure(ctx, "orders:promo", repositories.CounterConfig{
			Step:         1,
			MaxValue:     &cap,
			InitialValue: &start,
		}); err != nil {
			t.Fatalf("configure sequence: %v", err)
		}

		for i := int64(1); i <= cap; i++ {
			value, err := repo.Next(ctx, "orders:promo", 0)
			if err != nil {
				t.Fatalf("allocation %d: %v", i, err)
			}
			if value != i {
				t.Fatalf("want %d, got %d", i, value)
			}
		}

		_, err := repo.Next(ctx, "orders:promo", 0)
		var counterErr *repositories.CounterError
		if !errors.As(err, &counterErr) {
			t.Fatalf("expected counter error, got %T %v", err, err)
		}
		if counterErr.Code != repositories.CounterErrorExhausted {
			t.Fatalf("expected exhausted code, got %s", counterErr.Code)
		}
	})
}

// newEmulatorCounterRepo boots a dockerised Firestore emulator and
// returns a repository wired to it. Skips when docker is unavailable.
func newEmulatorCounterRepo(t *testing.T) (*CounterRepository, context.Context) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := exec.CommandContext(pingCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := reservePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := runEmulatorContainer(t, port)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})
	awaitEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "sokomart-counter-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return repo, ctx
}

func reservePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func runEmulatorContainer(t *testing.T, port int) string {
	t.Helper()
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
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatal("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func awaitEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
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
	t.Fatalf("firestore emulator at %s not ready within %s", endpoint, timeout)
}

package store

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestTransactionCommitOnSuccess(t *testing.T) {
	db := openTestDB(t)
	err := db.Transaction(func(g *Guard) error {
		return g.Set([]byte("k"), []byte("v"), nil)
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	val, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "v" {
		t.Fatalf("got %q want %q", val, "v")
	}
}

func TestTransactionRollbackOnFailure(t *testing.T) {
	db := openTestDB(t)
	wantErr := errors.New("insufficient funds")

	err := db.Transaction(func(g *Guard) error {
		if err := g.Set([]byte("k"), []byte("v"), nil); err != nil {
			return err
		}
		return wantErr
	})
	if err == nil {
		t.Fatalf("expected transaction to fail")
	}

	val, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != nil {
		t.Fatalf("expected rollback to discard the write, got %q", val)
	}
}

func TestTransactionAtomicTransfer(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("alice"), []byte("100"), nil); err != nil {
		t.Fatalf("Set alice: %v", err)
	}
	if err := db.Set([]byte("bob"), []byte("50"), nil); err != nil {
		t.Fatalf("Set bob: %v", err)
	}

	transfer := func(amount int) error {
		return db.Transaction(func(g *Guard) error {
			aliceRaw, err := g.Get([]byte("alice"))
			if err != nil {
				return err
			}
			aliceBal, _ := strconv.Atoi(string(aliceRaw))
			if aliceBal < amount {
				return errors.New("insufficient funds")
			}
			bobRaw, err := g.Get([]byte("bob"))
			if err != nil {
				return err
			}
			bobBal, _ := strconv.Atoi(string(bobRaw))

			if err := g.Set([]byte("alice"), []byte(strconv.Itoa(aliceBal-amount)), nil); err != nil {
				return err
			}
			return g.Set([]byte("bob"), []byte(strconv.Itoa(bobBal+amount)), nil)
		})
	}

	if err := transfer(20); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := transfer(500); err == nil {
		t.Fatalf("expected transfer of 500 to fail")
	}

	aliceRaw, _ := db.Get([]byte("alice"))
	bobRaw, _ := db.Get([]byte("bob"))
	if string(aliceRaw) != "80" {
		t.Fatalf("got alice=%s want 80", aliceRaw)
	}
	if string(bobRaw) != "70" {
		t.Fatalf("got bob=%s want 70", bobRaw)
	}
}

func TestTransactionIsolationNoLostUpdates(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("counter"), []byte("0"), nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	const goroutines = 10
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				err := db.Transaction(func(g *Guard) error {
					raw, err := g.Get([]byte("counter"))
					if err != nil {
						return err
					}
					n, _ := strconv.Atoi(string(raw))
					return g.Set([]byte("counter"), []byte(strconv.Itoa(n+1)), nil)
				})
				if err != nil {
					t.Errorf("Transaction: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	raw, err := db.Get([]byte("counter"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := strconv.Atoi(string(raw))
	if got != goroutines*perGoroutine {
		t.Fatalf("got counter=%d want %d (lost updates)", got, goroutines*perGoroutine)
	}
}

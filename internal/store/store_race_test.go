package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestStore_ConcurrentGetDuringSet 并发读与写交错：读者只会看到某一次完整的 Set。
func TestStore_ConcurrentGetDuringSet(t *testing.T) {
	st := New()
	base := time.Unix(1700000000, 0)

	// token 与 ObtainedAt/Validity 一一对应，混搭即为撕裂读
	mk := func(i int) Credential {
		return Credential{
			AccessToken: fmt.Sprintf("tok-%d", i),
			ObtainedAt:  base.Add(time.Duration(i) * time.Second),
			Validity:    time.Duration(i) * time.Minute,
		}
	}
	st.Set(mk(0))

	var wg sync.WaitGroup
	writes := 200

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			st.Set(mk(i))
		}
	}()

	errs := make(chan error, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c, err := st.Get()
				if err != nil {
					errs <- err
					return
				}
				var i int
				if _, err := fmt.Sscanf(c.AccessToken, "tok-%d", &i); err != nil {
					errs <- err
					return
				}
				if want := mk(i); c != want {
					errs <- fmt.Errorf("torn read: got %+v want %+v", c, want)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	last, err := st.Get()
	if err != nil {
		t.Fatalf("get after writes: %v", err)
	}
	if last.AccessToken != fmt.Sprintf("tok-%d", writes) {
		t.Errorf("expected last write to win, got %s", last.AccessToken)
	}
}

// TestStore_ConcurrentTokenReads 多读者并发读取 token
func TestStore_ConcurrentTokenReads(t *testing.T) {
	st := New()
	st.Set(Credential{AccessToken: "steady"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if tok, err := st.Token(); err != nil || tok != "steady" {
					t.Errorf("unexpected token %q err %v", tok, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

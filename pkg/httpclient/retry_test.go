package httpclient

import (
	"net/http"
	"testing"
	"time"
)

// TestNoRetry はNoRetryが再試行しないことを検証する。
func TestNoRetry(t *testing.T) {
	t.Parallel()

	if _, ok := (NoRetry{}).Next(http.MethodGet, 1); ok {
		t.Error("NoRetryは再試行しないべき")
	}
}

// TestBackoff はBackoff.Nextを検証する。
func TestBackoff(t *testing.T) {
	t.Parallel()

	b := Backoff{MaxRetries: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	t.Run("待ち時間が倍々に増え上限で止まること", func(t *testing.T) {
		t.Parallel()

		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
		for i, w := range want {
			got, ok := b.Next(http.MethodGet, i+1)
			if !ok {
				t.Fatalf("attempt %d: 再試行されるべき", i+1)
			}
			if got != w {
				t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
			}
		}
	})

	t.Run("最大回数を超えたら再試行しないこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := b.Next(http.MethodGet, 5); ok {
			t.Error("MaxRetriesを超えて再試行されるべきではない")
		}
	})

	t.Run("POSTは再試行しないこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := b.Next(http.MethodPost, 1); ok {
			t.Error("POSTは再試行されるべきではない")
		}
	})

	t.Run("PUTとDELETEは再試行すること", func(t *testing.T) {
		t.Parallel()

		for _, m := range []string{http.MethodPut, http.MethodDelete} {
			if _, ok := b.Next(m, 1); !ok {
				t.Errorf("%sは再試行されるべき", m)
			}
		}
	})
}

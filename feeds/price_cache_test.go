package feeds

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

func TestParseTickMessage(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		frame  string
		ok     []bool
		reason string
	}{
		{"single", `{"symbol":"A","ltp":101.5}`, []bool{true}, ""},
		{"aliases", `{"trading_symbol":"A","last_price":"99.1"}`, []bool{true}, ""},
		{"batch", `{"type":"ticks","ticks":[{"symbol":"A","ltp":1},{"symbol":"B"}]}`, []bool{true, false}, ""},
		{"bad json", `{"symbol":`, []bool{false}, SkipBadJSON},
		{"no symbol", `{"ltp":5}`, []bool{false}, SkipNoSymbol},
		{"no price", `{"symbol":"A"}`, []bool{false}, SkipNoPrice},
		{"zero price", `{"symbol":"A","ltp":0}`, []bool{false}, SkipNonPositive},
		{"unknown type", `{"type":"depth","symbol":"A","ltp":1}`, []bool{false}, SkipUnknownFormat},
		{"control frame", `{"type":"ack","status":"ok"}`, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTickMessage([]byte(tc.frame), now)
			if len(got) != len(tc.ok) {
				t.Fatalf("results = %+v", got)
			}
			for i, r := range got {
				if r.OK != tc.ok[i] {
					t.Errorf("result %d ok = %v", i, r.OK)
				}
				if r.OK && !r.Tick.Timestamp.Equal(now) {
					t.Errorf("timestamp = %v", r.Tick.Timestamp)
				}
			}
			if tc.reason != "" && got[0].Reason != tc.reason {
				t.Errorf("reason = %q, want %q", got[0].Reason, tc.reason)
			}
		})
	}
}

func TestPriceCacheApplyCountsMalformed(t *testing.T) {
	c := NewPriceCache()
	for _, r := range ParseTickMessage([]byte(`{"type":"ticks","ticks":[{"symbol":"A","ltp":10},{"symbol":"B","ltp":-1},{"ltp":3}]}`), time.Now()) {
		c.Apply(r)
	}

	if p, ok := c.Get("A"); !ok || !p.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("A = %s %v", p, ok)
	}
	if _, ok := c.Get("B"); ok {
		t.Fatal("negative price cached")
	}
	if c.Accepted() != 1 || c.Malformed() != 2 {
		t.Fatalf("accepted = %d, malformed = %d", c.Accepted(), c.Malformed())
	}
}

func TestPriceCacheGetSinceAndDelete(t *testing.T) {
	c := NewPriceCache()
	t0 := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	c.Set(types.Tick{Symbol: "A", LTP: decimal.NewFromInt(5), Timestamp: t0})

	if _, ok := c.GetSince("A", t0.Add(time.Second)); ok {
		t.Fatal("stale price returned")
	}
	if p, ok := c.GetSince("A", t0); !ok || !p.Equal(decimal.NewFromInt(5)) {
		t.Fatal("fresh price missing")
	}

	c.Delete("A")
	if len(c.Snapshot()) != 0 {
		t.Fatal("delete left price")
	}
}

func TestPriceCacheConcurrentAccess(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Set(types.Tick{Symbol: fmt.Sprintf("S%d", i%10), LTP: decimal.NewFromInt(int64(i + 1)), Timestamp: time.Now()})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Get("S1")
				c.Snapshot()
			}
		}()
	}
	wg.Wait()

	if c.Accepted() != 2000 {
		t.Fatalf("accepted = %d", c.Accepted())
	}
}

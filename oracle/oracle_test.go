package oracle

import (
	"bytes"
	"errors"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"
)

func TestQuoteValidate(t *testing.T) {
	now := int64(1_700_000_000)
	fresh := Quote{Price: 100, Expo: -2, PublishTime: now - 10}
	if err := fresh.Validate(now, time.Hour); err != nil {
		t.Fatalf("fresh quote rejected: %v", err)
	}
	boundary := Quote{Price: 100, Expo: -2, PublishTime: now - 3600}
	if err := boundary.Validate(now, time.Hour); err != nil {
		t.Fatalf("quote at the window boundary rejected: %v", err)
	}
	stale := Quote{Price: 100, Expo: -2, PublishTime: now - 3601}
	if err := stale.Validate(now, time.Hour); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected stale error, got %v", err)
	}
	negative := Quote{Price: -1, PublishTime: now}
	if err := negative.Validate(now, time.Hour); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price error, got %v", err)
	}
	zero := Quote{Price: 0, PublishTime: now}
	if err := zero.Validate(now, time.Hour); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price error, got %v", err)
	}
}

func TestUSDValueNegativeExponent(t *testing.T) {
	// $2000.00000000 per token: price 200000000000 at expo -8.
	q := Quote{Price: 200_000_000_000, Expo: -8}
	// 1.5 tokens with 18 decimals.
	balance, _ := new(big.Int).SetString("1500000000000000000", 10)
	got, err := USDValue(q, balance, 18)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	want := big.NewInt(300_000_000_000) // $3000 in 8-decimal units
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected value: got %s want %s", got, want)
	}
}

func TestUSDValuePositiveExponent(t *testing.T) {
	// price 3 at expo 2 => $300 per token.
	q := Quote{Price: 3, Expo: 2}
	balance := big.NewInt(2_000_000) // 2 tokens at 6 decimals
	got, err := USDValue(q, balance, 6)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	want := big.NewInt(60_000_000_000) // $600
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected value: got %s want %s", got, want)
	}
}

func TestUSDValueZeroBalance(t *testing.T) {
	got, err := USDValue(Quote{Price: 1, Expo: 0}, big.NewInt(0), 6)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("zero balance should value to zero, got %s", got)
	}
}

func TestUSDValueRejectsNonPositivePrice(t *testing.T) {
	if _, err := USDValue(Quote{Price: 0}, big.NewInt(1), 6); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price error, got %v", err)
	}
}

func TestManualSourceRoundTrip(t *testing.T) {
	src := NewManualSource()
	q := Quote{Price: 123, Expo: -2, PublishTime: 42}
	src.Set("feed-a", q)
	got, err := src.GetPrice("feed-a")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if got != q {
		t.Fatalf("unexpected quote: %+v", got)
	}
	if _, err := src.GetPrice("missing"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected feed not found, got %v", err)
	}
}

type stubDoer struct {
	status int
	body   string
}

func (s stubDoer) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func TestHermesSourceParsesPayload(t *testing.T) {
	body := `{"parsed":[{"id":"abc123","price":{"price":"200000000000","conf":"95000000","expo":-8,"publish_time":1700000000}}]}`
	src := NewHermesSource(stubDoer{status: http.StatusOK, body: body}, "http://hermes.test/latest")
	got, err := src.GetPrice("0xabc123")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	want := Quote{Price: 200_000_000_000, Conf: 95_000_000, Expo: -8, PublishTime: 1_700_000_000}
	if got != want {
		t.Fatalf("unexpected quote: got %+v want %+v", got, want)
	}
}

func TestHermesSourceMissingFeed(t *testing.T) {
	src := NewHermesSource(stubDoer{status: http.StatusOK, body: `{"parsed":[]}`}, "http://hermes.test/latest")
	if _, err := src.GetPrice("abc123"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected feed not found, got %v", err)
	}
}

func TestHermesSourceHTTPError(t *testing.T) {
	src := NewHermesSource(stubDoer{status: http.StatusBadGateway, body: "upstream down"}, "http://hermes.test/latest")
	if _, err := src.GetPrice("abc123"); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

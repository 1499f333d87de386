package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func lvl(price, size string) Level {
	return Level{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestTopLevel(t *testing.T) {
	tests := []struct {
		name   string
		levels []Level
		want   string
		ok     bool
	}{
		{"first valid", []Level{lvl("1.0001", "10"), lvl("1.0000", "5")}, "1.0001", true},
		{"skips zero size", []Level{lvl("1.0002", "0"), lvl("1.0001", "10")}, "1.0001", true},
		{"skips negative size", []Level{lvl("1.0002", "-1"), lvl("1.0001", "3")}, "1.0001", true},
		{"all empty", []Level{lvl("1.0002", "0")}, "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TopLevel(tt.levels)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.Price.String() != tt.want {
				t.Errorf("price = %s, want %s", got.Price, tt.want)
			}
		})
	}
}

func TestQuote_IsFresh(t *testing.T) {
	now := time.Now()
	window := 10 * time.Second

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just observed", now, true},
		{"inside window", now.Add(-9 * time.Second), true},
		{"exactly at window", now.Add(-window), false},
		{"older than window", now.Add(-11 * time.Second), false},
		{"never observed", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Quote{ObservedAt: tt.at}
			if got := q.IsFresh(now, window); got != tt.want {
				t.Errorf("IsFresh = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuote_ApplyKeepsMissingSide(t *testing.T) {
	q := Quote{Venue: VenueBinance}
	bid := lvl("0.9990", "100")
	q.Apply(BookUpdate{Bid: &bid}, time.Now())

	if q.Complete() {
		t.Fatal("quote with no ask should not be complete")
	}

	ask := lvl("0.9995", "50")
	q.Apply(BookUpdate{Ask: &ask}, time.Now())

	if !q.Complete() {
		t.Fatal("quote should be complete after both sides arrive")
	}
	if !q.BestBid.Equal(bid.Price) {
		t.Errorf("bid changed to %s", q.BestBid)
	}
}

func TestBookUpdate_Empty(t *testing.T) {
	if !(BookUpdate{}).Empty() {
		t.Error("zero update should be empty")
	}
	l := lvl("1", "1")
	if (BookUpdate{Ask: &l}).Empty() {
		t.Error("update with ask should not be empty")
	}
}

func TestPair_Symbol(t *testing.T) {
	p := Pair{Base: "TUSD", Quote: "USDT"}
	if p.Symbol() != "TUSDUSDT" {
		t.Errorf("Symbol = %s", p.Symbol())
	}
	if p.String() != "TUSD/USDT" {
		t.Errorf("String = %s", p.String())
	}
}

func TestParseVenue(t *testing.T) {
	tests := []struct {
		in      string
		want    Venue
		wantErr bool
	}{
		{"binance", VenueBinance, false},
		{" Bybit ", VenueBybit, false},
		{"BITGET", VenueBitget, false},
		{"upbit", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVenue(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVenue(%q) = %q, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownVenue) {
			t.Errorf("err = %v, want ErrUnknownVenue", err)
		}
	}
}

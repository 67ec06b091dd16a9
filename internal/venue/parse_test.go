package venue

import "testing"

func TestParsePriceLevel(t *testing.T) {
	pl, err := ParsePriceLevel("0.52", "150")
	if err != nil {
		t.Fatal(err)
	}
	if pl.Price != 0.52 || pl.Size != 150 {
		t.Fatalf("unexpected level: %+v", pl)
	}
}

func TestParsePriceLevelRejectsNonPositive(t *testing.T) {
	if _, err := ParsePriceLevel("0", "100"); err == nil {
		t.Fatal("expected zero price to be rejected")
	}
	if _, err := ParsePriceLevel("0.5", "-1"); err == nil {
		t.Fatal("expected negative size to be rejected")
	}
}

func TestParsePriceLevelRejectsGarbage(t *testing.T) {
	if _, err := ParsePriceLevel("not-a-number", "1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseTimestampSeconds(t *testing.T) {
	ts := ParseTimestamp(1700000000)
	if ts.Unix() != 1700000000 {
		t.Fatalf("expected seconds interpretation, got %v", ts)
	}
}

func TestParseTimestampMillis(t *testing.T) {
	ts := ParseTimestamp(4000000000123)
	if ts.UnixMilli() != 4000000000123 {
		t.Fatalf("expected millis interpretation, got %v", ts)
	}
}

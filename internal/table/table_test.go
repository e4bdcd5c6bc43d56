package table

import (
	"testing"

	"ktap/internal/strpool"
	"ktap/internal/value"
)

func TestArrayPartSetGet(t *testing.T) {
	tab := New(4, 0)
	if err := tab.Set(value.Number(1), value.Number(100)); err != nil {
		t.Fatal(err)
	}
	if got := tab.Get(value.Number(1)); value.AsNumber(got) != 100 {
		t.Fatalf("Get(1) = %v, want 100", got)
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}
}

func TestHashPartSetGet(t *testing.T) {
	pool := strpool.New()
	key, err := pool.Intern("name")
	if err != nil {
		t.Fatal(err)
	}
	tab := New(0, 2)
	kv := strpool.ToValue(key)
	if err := tab.Set(kv, value.Number(7)); err != nil {
		t.Fatal(err)
	}
	if got := tab.Get(kv); value.AsNumber(got) != 7 {
		t.Fatalf("Get(name) = %v, want 7", got)
	}
}

func TestSetNilDeletesEntry(t *testing.T) {
	tab := New(0, 4)
	pool := strpool.New()
	key, _ := pool.Intern("k")
	kv := strpool.ToValue(key)
	if err := tab.Set(kv, value.Number(1)); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}
	if err := tab.Set(kv, value.Nil()); err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 0 {
		t.Fatalf("Len() after delete = %d, want 0", tab.Len())
	}
}

func TestNextIteratesAllEntries(t *testing.T) {
	tab := New(2, 2)
	pool := strpool.New()
	if err := tab.Set(value.Number(1), value.Number(10)); err != nil {
		t.Fatal(err)
	}
	if err := tab.Set(value.Number(2), value.Number(20)); err != nil {
		t.Fatal(err)
	}
	key, _ := pool.Intern("extra")
	if err := tab.Set(strpool.ToValue(key), value.Number(30)); err != nil {
		t.Fatal(err)
	}

	seen := map[float64]bool{}
	k := value.Nil()
	count := 0
	for {
		nk, nv, ok := tab.Next(k)
		if !ok {
			break
		}
		seen[value.AsNumber(nv)] = true
		k = nk
		count++
		if count > 10 {
			t.Fatal("Next appears to be looping forever")
		}
	}
	if count != 3 {
		t.Fatalf("iterated %d entries, want 3", count)
	}
	for _, want := range []float64{10, 20, 30} {
		if !seen[want] {
			t.Errorf("missing value %v from iteration", want)
		}
	}
}

func TestIncrAccumulatesStatData(t *testing.T) {
	tab := New(0, 4)
	pool := strpool.New()
	key, _ := pool.Intern("latency")
	kv := strpool.ToValue(key)

	if err := tab.Incr(kv, 5); err != nil {
		t.Fatal(err)
	}
	if err := tab.Incr(kv, 10); err != nil {
		t.Fatal(err)
	}
	if err := tab.Incr(kv, 2); err != nil {
		t.Fatal(err)
	}

	sd, ok := tab.StatAt(kv)
	if !ok {
		t.Fatal("expected stat data for an incremented key")
	}
	if sd.Count != 3 {
		t.Errorf("Count = %d, want 3", sd.Count)
	}
	if sd.Sum != 17 {
		t.Errorf("Sum = %v, want 17", sd.Sum)
	}
	if sd.Min != 2 {
		t.Errorf("Min = %v, want 2", sd.Min)
	}
	if sd.Max != 10 {
		t.Errorf("Max = %v, want 10", sd.Max)
	}
}

func TestIncrOnArrayIndex(t *testing.T) {
	tab := New(4, 0)
	if err := tab.Incr(value.Number(1), 3); err != nil {
		t.Fatal(err)
	}
	if err := tab.Incr(value.Number(1), 4); err != nil {
		t.Fatal(err)
	}
	sd, ok := tab.StatAt(value.Number(1))
	if !ok {
		t.Fatal("expected stat data for an incremented array slot")
	}
	if sd.Sum != 7 || sd.Count != 2 {
		t.Fatalf("got sum=%v count=%d, want sum=7 count=2", sd.Sum, sd.Count)
	}
}

func TestIncrRejectsNilKey(t *testing.T) {
	tab := New(0, 4)
	if err := tab.Incr(value.Nil(), 1); err == nil {
		t.Fatal("expected Incr to reject a nil key")
	}
}

func TestGrowsHashPartBeyondInitialSize(t *testing.T) {
	tab := New(0, 1) // 2 hash slots
	pool := strpool.New()
	for i := 0; i < 50; i++ {
		key, err := pool.Intern(string(rune('a' + i%26)) + string(rune('0'+i/26)))
		if err != nil {
			t.Fatal(err)
		}
		if err := tab.Set(strpool.ToValue(key), value.Number(float64(i))); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}
	if tab.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", tab.Len())
	}
}

func TestMergeStatsCombinesCounters(t *testing.T) {
	a := New(0, 2)
	b := New(0, 2)
	pool := strpool.New()
	key, _ := pool.Intern("x")
	kv := strpool.ToValue(key)

	if err := a.Incr(kv, 1); err != nil {
		t.Fatal(err)
	}
	if err := a.Incr(kv, 3); err != nil {
		t.Fatal(err)
	}
	if err := b.Incr(kv, 10); err != nil {
		t.Fatal(err)
	}

	a.MergeStats(b)
	sd, ok := a.StatAt(kv)
	if !ok {
		t.Fatal("expected merged stat data")
	}
	if sd.Count != 3 {
		t.Errorf("Count = %d, want 3", sd.Count)
	}
	if sd.Sum != 14 {
		t.Errorf("Sum = %v, want 14", sd.Sum)
	}
	if sd.Max != 10 {
		t.Errorf("Max = %v, want 10", sd.Max)
	}
}

func TestIsTableAndValueRoundTrip(t *testing.T) {
	tab := New(0, 0)
	v := ToValue(tab)
	if !IsTable(v) {
		t.Fatal("ToValue's result should satisfy IsTable")
	}
	if FromValue(v) != tab {
		t.Fatal("FromValue should recover the original *Table")
	}
}

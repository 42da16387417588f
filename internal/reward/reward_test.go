package reward

import "testing"

func TestCompute(t *testing.T) {
	tests := []struct {
		name  string
		sales int64
		want  int64
	}{
		{name: "zero", sales: 0, want: 0},
		{name: "negative", sales: -10, want: 0},
		{name: "below threshold", sales: 4_499, want: 0},
		{name: "at threshold", sales: 4_500, want: 0},
		{name: "one above threshold", sales: 4_501, want: 1},
		{name: "first band boundary", sales: 18_000, want: 13_500},
		{name: "second band boundary", sales: 45_000, want: 56_700},
		{name: "third band boundary", sales: 90_000, want: 151_200},
		{name: "top band", sales: 100_000, want: 177_200},
		{name: "inside second band", sales: 20_000, want: 16_700},
		{name: "rounding half up", sales: 18_067, want: 13_607}, // 13500 + 67*1.6% = 136.072 -> 136.07
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.sales); got != tt.want {
				t.Fatalf("Compute(%d) = %d, want %d", tt.sales, got, tt.want)
			}
		})
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name      string
		sales     int64
		granted   int64
		wantTotal int64
		wantDelta int64
	}{
		{name: "below threshold", sales: 4_000, granted: 0, wantTotal: 0, wantDelta: 0},
		{name: "at threshold", sales: 4_500, granted: 0, wantTotal: 0, wantDelta: 0},
		{name: "first grant", sales: 20_000, granted: 0, wantTotal: 16_700, wantDelta: 16_700},
		{name: "repeat call with unchanged sales", sales: 20_000, granted: 16_700, wantTotal: 16_700, wantDelta: 0},
		{name: "sales grew within period", sales: 20_000, granted: 5_500, wantTotal: 16_700, wantDelta: 11_200},
		{name: "granted above total", sales: 20_000, granted: 20_000, wantTotal: 16_700, wantDelta: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, delta := Delta(tt.sales, tt.granted)
			if total != tt.wantTotal || delta != tt.wantDelta {
				t.Fatalf("Delta(%d, %d) = (%d, %d), want (%d, %d)",
					tt.sales, tt.granted, total, delta, tt.wantTotal, tt.wantDelta)
			}
		})
	}
}

// Двукратная сверка без новых продаж ничего не доначисляет, а рост продаж
// доначисляет ровно разницу полных вознаграждений.
func TestDelta_Idempotent(t *testing.T) {
	total, first := Delta(10_000, 0)
	if first != Compute(10_000) {
		t.Fatalf("first delta = %d, want %d", first, Compute(10_000))
	}

	// Повторный вызов с уже выплаченной суммой.
	_, second := Delta(10_000, total)
	if second != 0 {
		t.Fatalf("repeat delta = %d, want 0", second)
	}

	// Продажи выросли с 10000 до 20000 между вызовами.
	_, growth := Delta(20_000, total)
	if want := Compute(20_000) - Compute(10_000); growth != want {
		t.Fatalf("growth delta = %d, want %d", growth, want)
	}
}

func TestCompute_Monotonic(t *testing.T) {
	prev := int64(0)
	for sales := int64(0); sales <= 120_000; sales += 137 {
		got := Compute(sales)
		if got < prev {
			t.Fatalf("Compute is not monotonic at sales=%d: %d < %d", sales, got, prev)
		}
		prev = got
	}
}

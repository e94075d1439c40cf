package lab

import (
	"context"
	"errors"
	"sort"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestFormatIdentifier(t *testing.T) {
	tests := []struct {
		kind IDKind
		n    int64
		want string
	}{
		{KindTest, 1, "TEST-0001"},
		{KindGroup, 42, "GRP-0042"},
		{KindReport, 1, "REP-001"},
		{KindReport, 999, "REP-999"},
		{KindReport, 1000, "REP-1000"},
		{KindTest, 12345, "TEST-12345"},
	}
	for _, tt := range tests {
		if got := FormatIdentifier(tt.kind, tt.n); got != tt.want {
			t.Errorf("FormatIdentifier(%s, %d) = %q, want %q", tt.kind, tt.n, got, tt.want)
		}
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		kind    IDKind
		in      string
		want    int64
		wantErr bool
	}{
		{KindGroup, "GRP-0007", 7, false},
		{KindReport, "REP-001", 1, false},
		{KindReport, "REP-1000", 1000, false},
		{KindTest, "TEST-0001", 1, false},
		{KindGroup, "GRP-7", 0, true},
		{KindGroup, "REP-0007", 0, true},
		{KindGroup, "GRP-+007", 0, true},
		{KindGroup, "GRP-0000", 0, true},
		{KindGroup, "GRP-00a1", 0, true},
		{KindReport, "", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseIdentifier(tt.kind, tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseIdentifier(%s, %q): expected validation error, got %v", tt.kind, tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseIdentifier(%s, %q) = %d, %v; want %d", tt.kind, tt.in, got, err, tt.want)
		}
	}
}

func TestAllocator_UnknownKind(t *testing.T) {
	a := NewAllocator(memSeq{newMemStore()})
	if _, err := a.Next(context.Background(), IDKind("invoice")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestAllocator_NamespacesAreIndependent(t *testing.T) {
	a := NewAllocator(memSeq{newMemStore()})
	ctx := context.Background()
	first, _ := a.Next(ctx, KindTest)
	second, _ := a.Next(ctx, KindTest)
	group, _ := a.Next(ctx, KindGroup)
	report, _ := a.Next(ctx, KindReport)
	if first != "TEST-0001" || second != "TEST-0002" {
		t.Errorf("unexpected test ids %s, %s", first, second)
	}
	if group != "GRP-0001" || report != "REP-001" {
		t.Errorf("unexpected ids %s, %s", group, report)
	}
}

func TestAllocator_ConcurrentCallersGetDistinctSequentialIDs(t *testing.T) {
	const n = 64
	a := NewAllocator(memSeq{newMemStore()})
	ids := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := a.Next(context.Background(), KindGroup)
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	nums := make([]int, 0, n)
	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("identifier %s handed out twice", id)
		}
		seen[id] = true
		v, err := ParseIdentifier(KindGroup, id)
		if err != nil {
			t.Fatalf("malformed id %s: %v", id, err)
		}
		nums = append(nums, int(v))
	}
	sort.Ints(nums)
	for i, v := range nums {
		if v != i+1 {
			t.Fatalf("expected gapless sequence 1..%d, got %v", n, nums)
		}
	}
}

package ranking

import (
	"context"
	"testing"
	"time"

	"cheevobot/internal/challenge"
	"cheevobot/internal/storage"
)

var period = challenge.Period{Month: time.March, Year: 2024}

func gameAward(user string, gameID int64, p challenge.Period, tier challenge.Tier, progress, points int) challenge.Award {
	return challenge.Award{
		User: user, Kind: challenge.KindGame, GameID: gameID,
		Period: p, Tier: tier, Progress: progress, Points: points,
	}
}

func TestMonthlyCompetitionRanking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	// Two users at 5, one at 3, one at zero (excluded).
	for _, a := range []challenge.Award{
		gameAward("alice", 7, period, challenge.TierParticipation, 5, 1),
		gameAward("bob", 7, period, challenge.TierParticipation, 5, 1),
		gameAward("carol", 7, period, challenge.TierParticipation, 3, 1),
		gameAward("dave", 7, period, challenge.TierNone, 0, 0),
	} {
		if err := store.UpsertAward(ctx, a); err != nil {
			t.Fatalf("UpsertAward: %v", err)
		}
	}

	entries, err := New(store).Monthly(ctx, 7, period)
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d: %+v", len(entries), entries)
	}
	wantRanks := []int{1, 1, 3}
	for i, e := range entries {
		if e.Rank != wantRanks[i] {
			t.Fatalf("ranks = %+v, want {1,1,3}", entries)
		}
	}
	// Stable ties: alice inserted before bob stays first.
	if entries[0].User != "alice" || entries[1].User != "bob" {
		t.Fatalf("tie order not stable: %+v", entries)
	}
	if entries[2].User != "carol" || entries[2].Metric != 3 {
		t.Fatalf("third entry wrong: %+v", entries[2])
	}
}

func TestYearlyAggregation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	april := challenge.Period{Month: time.April, Year: 2024}
	for _, a := range []challenge.Award{
		gameAward("alice", 7, period, challenge.TierMastered, 10, 7),
		gameAward("alice", 8, april, challenge.TierBeaten, 6, 4),
		gameAward("bob", 7, period, challenge.TierBeaten, 8, 4),
	} {
		if err := store.UpsertAward(ctx, a); err != nil {
			t.Fatalf("UpsertAward: %v", err)
		}
	}
	if err := store.InsertManualAward(ctx, challenge.Award{
		User: "bob", Kind: challenge.KindManual, Period: april, Points: 7, Reason: "event host",
	}); err != nil {
		t.Fatalf("InsertManualAward: %v", err)
	}

	r := New(store)
	entries, err := r.Yearly(ctx, 2024)
	if err != nil {
		t.Fatalf("Yearly: %v", err)
	}
	// alice 7+4=11, bob 4+7=11: tied at rank 1, alice first (earlier row).
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %+v", entries)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 1 {
		t.Fatalf("expected shared rank 1: %+v", entries)
	}
	if entries[0].User != "alice" || entries[0].Metric != 11 || entries[1].Metric != 11 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Re-running the aggregation is idempotent.
	again, err := r.Yearly(ctx, 2024)
	if err != nil {
		t.Fatalf("Yearly again: %v", err)
	}
	for i := range entries {
		if again[i] != entries[i] {
			t.Fatalf("aggregation not idempotent: %+v vs %+v", entries, again)
		}
	}
}

func TestYearlyDedupAcrossRechecks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()

	// The same (user, game, period) upserted three times counts once.
	for i := 0; i < 3; i++ {
		if err := store.UpsertAward(ctx, gameAward("alice", 7, period, challenge.TierBeaten, 8, 4)); err != nil {
			t.Fatalf("UpsertAward: %v", err)
		}
	}
	entries, err := New(store).Yearly(ctx, 2024)
	if err != nil {
		t.Fatalf("Yearly: %v", err)
	}
	if len(entries) != 1 || entries[0].Metric != 4 {
		t.Fatalf("expected single 4-point total, got %+v", entries)
	}
}

func TestUserTotal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	if err := store.UpsertAward(ctx, gameAward("alice", 7, period, challenge.TierMastered, 10, 7)); err != nil {
		t.Fatalf("UpsertAward: %v", err)
	}
	if err := store.InsertManualAward(ctx, challenge.Award{
		User: "Alice", Kind: challenge.KindManual, Period: period, Points: 3, Reason: "placement",
	}); err != nil {
		t.Fatalf("InsertManualAward: %v", err)
	}
	total, err := New(store).UserTotal(ctx, "ALICE", 2024)
	if err != nil {
		t.Fatalf("UserTotal: %v", err)
	}
	if total != 10 {
		t.Fatalf("total = %d, want 10", total)
	}
}

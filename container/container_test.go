package container

import (
	"errors"
	"testing"
	"time"

	"github.com/qprotocol/qmem/core"
	"github.com/qprotocol/qmem/internal/testutil"
)

func TestNew_EmptyContainerIsValid(t *testing.T) {
	c := New("agent-1", "trace-1")
	h := c.Header()
	if h.ContainerID == "" || h.FormatVersion != core.FormatVersion {
		t.Fatalf("unexpected header: %#v", h)
	}
	if h.EntryCount != 0 || h.TotalByteSize != 0 {
		t.Fatalf("expected empty counters, got %#v", h)
	}
	if err := c.VerifyIntegrity(); err != nil {
		t.Fatalf("empty container failed verification: %v", err)
	}
	if c.HasReceipt("git:clone:repo") {
		t.Fatalf("empty container claims a receipt")
	}
	if got := c.QueryReceipts("missing"); len(got) != 0 {
		t.Fatalf("query on missing key returned %d receipts", len(got))
	}
}

func TestAddReceipt_UpdatesHeaderAndIndex(t *testing.T) {
	c := New("agent-1", "trace-1")
	r := testutil.NewReceiptBuilder().Key("git:clone:repo").Success([]byte("rev-1")).Cost(10).Build()
	if err := c.AddReceipt(r); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !c.HasReceipt("git:clone:repo") {
		t.Fatalf("receipt not indexed by key")
	}
	h := c.Header()
	if h.EntryCount != 1 || h.TotalByteSize != int64(len("rev-1")) {
		t.Fatalf("header not updated: %#v", h)
	}
	if err := c.VerifyIntegrity(); err != nil {
		t.Fatalf("verification failed after append: %v", err)
	}
	got, ok := c.LatestReceipt("git:clone:repo")
	if !ok || got.ReceiptID != r.ReceiptID {
		t.Fatalf("latest receipt mismatch: %#v", got)
	}
}

func TestAddReceipt_RejectsDuplicatesAndInvalid(t *testing.T) {
	c := New("agent-1", "trace-1")
	r := testutil.NewReceiptBuilder().ID("fixed-id").Build()
	if err := c.AddReceipt(r); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	err := c.AddReceipt(testutil.NewReceiptBuilder().ID("fixed-id").Build())
	if !errors.Is(err, core.ErrDuplicateReceipt) {
		t.Fatalf("expected duplicate receipt error, got %v", err)
	}
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	// unsealed receipt
	bad := testutil.NewReceiptBuilder().Build()
	bad.RecordHash = ""
	if err := c.AddReceipt(bad); err == nil {
		t.Fatalf("expected rejection of unsealed receipt")
	}
	// tampered after sealing
	tampered := testutil.NewReceiptBuilder().Success([]byte("a")).Build()
	tampered.ResultPayload = []byte("b")
	if err := c.AddReceipt(tampered); err == nil {
		t.Fatalf("expected rejection of tampered receipt")
	}
	// malformed operation key
	if err := c.AddReceipt(testutil.NewReceiptBuilder().Key("has space").Build()); err == nil {
		t.Fatalf("expected rejection of malformed operation key")
	}
	if st := c.Stats(); st.ReceiptCount != 1 {
		t.Fatalf("rejections must not append, receipt count %d", st.ReceiptCount)
	}
}

func TestQueryReceipts_AppendOrder(t *testing.T) {
	c := New("agent-1", "trace-1")
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	// deliberately append out of time order
	ids := []string{"r-b", "r-a", "r-c"}
	times := []time.Time{base.Add(2 * time.Hour), base, base.Add(time.Hour)}
	for i, id := range ids {
		r := testutil.NewReceiptBuilder().ID(id).Key("k:v").At(times[i]).Build()
		if err := c.AddReceipt(r); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}
	got := c.QueryReceipts("k:v")
	if len(got) != 3 {
		t.Fatalf("expected 3 receipts, got %d", len(got))
	}
	for i, id := range ids {
		if got[i].ReceiptID != id {
			t.Fatalf("append order violated at %d: got %s want %s", i, got[i].ReceiptID, id)
		}
	}
	latest, ok := c.LatestReceipt("k:v")
	if !ok || latest.ReceiptID != "r-b" {
		t.Fatalf("latest should be max created_at, got %s", latest.ReceiptID)
	}
}

func TestLatestReceipt_TieBreakByID(t *testing.T) {
	c := New("agent-1", "trace-1")
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"r-a", "r-c", "r-b"} {
		if err := c.AddReceipt(testutil.NewReceiptBuilder().ID(id).Key("k:v").At(at).Build()); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	latest, _ := c.LatestReceipt("k:v")
	if latest.ReceiptID != "r-c" {
		t.Fatalf("expected lexically greatest id on tie, got %s", latest.ReceiptID)
	}
}

func TestReceiptsByAgentAndRange(t *testing.T) {
	c := New("agent-1", "trace-1")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		agent := "agent-a"
		if i%2 == 1 {
			agent = "agent-b"
		}
		r := testutil.NewReceiptBuilder().
			ID(string(rune('a' + i))).
			Key("k:v").
			Agent(agent).
			At(base.Add(time.Duration(i) * time.Minute)).
			Build()
		if err := c.AddReceipt(r); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if got := c.ReceiptsByAgent("agent-a"); len(got) != 3 {
		t.Fatalf("expected 3 receipts for agent-a, got %d", len(got))
	}
	if got := c.ReceiptsByAgent("nobody"); len(got) != 0 {
		t.Fatalf("expected none for unknown agent, got %d", len(got))
	}
	got := c.ReceiptsInRange(base.Add(time.Minute), base.Add(3*time.Minute))
	if len(got) != 3 {
		t.Fatalf("expected 3 receipts in range, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("range result not time ordered")
		}
	}
}

func TestSnapshots_AppendAndPrune(t *testing.T) {
	c := New("agent-1", "trace-1")
	for i := 0; i < 150; i++ {
		if err := c.AddStateSnapshot(testutil.NewSnapshotBuilder().Build()); err != nil {
			t.Fatalf("snapshot add failed: %v", err)
		}
	}
	r := testutil.NewReceiptBuilder().Build()
	if err := c.AddReceipt(r); err != nil {
		t.Fatalf("receipt add failed: %v", err)
	}
	snaps := c.Snapshots()
	if len(snaps) != 150 {
		t.Fatalf("expected 150 snapshots, got %d", len(snaps))
	}
	pruned := c.PruneSnapshots(100)
	if pruned != 50 {
		t.Fatalf("expected 50 pruned, got %d", pruned)
	}
	kept := c.Snapshots()
	if len(kept) != 100 {
		t.Fatalf("expected 100 kept, got %d", len(kept))
	}
	// most recent, order preserved
	if kept[0].StateID != snaps[50].StateID || kept[99].StateID != snaps[149].StateID {
		t.Fatalf("wrong snapshots kept")
	}
	if st := c.Stats(); st.StateCount != 100 || st.ReceiptCount != 1 {
		t.Fatalf("stats after prune: %#v", st)
	}
	if err := c.VerifyIntegrity(); err != nil {
		t.Fatalf("verification failed after prune: %v", err)
	}
	if c.PruneSnapshots(100) != 0 {
		t.Fatalf("second prune should be a no-op")
	}
}

func TestCoordinateDictionary_RunningMean(t *testing.T) {
	c := New("agent-1", "trace-1")
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := c.RecordCoordinateUsage("git:clone:repo-a", 10, "agent-1", at); err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if err := c.RecordCoordinateUsage("git:clone:repo-b", 20, "agent-2", at.Add(time.Hour)); err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	entry, ok := c.CoordinateEntry("git:clone")
	if !ok {
		t.Fatalf("missing dictionary entry")
	}
	if entry.UsageCount != 2 || entry.AverageTokenCost != 15 {
		t.Fatalf("unexpected aggregate: %#v", entry)
	}
	if entry.Subject != "git" || entry.Action != "clone" {
		t.Fatalf("prefix parsing wrong: %#v", entry)
	}
	if !entry.LastUsedAt.Equal(at.Add(time.Hour)) || !entry.FirstUsedAt.Equal(at) {
		t.Fatalf("timestamps wrong: %#v", entry)
	}
	// LastUsedAt is monotonic
	if err := c.RecordCoordinateUsage("git:clone:repo-c", 30, "agent-1", at.Add(-time.Hour)); err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	entry, _ = c.CoordinateEntry("git:clone")
	if !entry.LastUsedAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("LastUsedAt moved backwards")
	}
	if !entry.FirstUsedAt.Equal(at.Add(-time.Hour)) {
		t.Fatalf("FirstUsedAt should track the earliest use")
	}
}

func TestStats_Aggregates(t *testing.T) {
	c := New("agent-1", "trace-1")
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, cost := range []int64{10, 20, 30} {
		r := testutil.NewReceiptBuilder().At(base.Add(time.Duration(i) * time.Hour)).Cost(cost).Build()
		if err := c.AddReceipt(r); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	st := c.Stats()
	if st.ReceiptCount != 3 || st.MeanTokenCost != 20 {
		t.Fatalf("unexpected stats: %#v", st)
	}
	if !st.OldestReceipt.Equal(base) || !st.NewestReceipt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("timestamp bounds wrong: %#v", st)
	}
}

func TestVerifyIntegrity_DetectsMutation(t *testing.T) {
	c := New("agent-1", "trace-1")
	r := testutil.NewReceiptBuilder().Success([]byte("good")).Build()
	if err := c.AddReceipt(r); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// A tampered in-memory log (simulating what a corrupted load would
	// produce) must fail verification even though the stored record hash
	// still matches the header fold.
	c.receipts[0].ResultPayload = []byte("evil")
	err := c.VerifyIntegrity()
	if !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
	var ie *core.IntegrityError
	if !errors.As(err, &ie) || ie.ContainerID != c.ID() {
		t.Fatalf("integrity error must name the container: %v", err)
	}
}

func TestDefensiveCopies(t *testing.T) {
	c := New("agent-1", "trace-1")
	r := testutil.NewReceiptBuilder().Key("k:v").Success([]byte("orig")).Build()
	if err := c.AddReceipt(r); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	got := c.QueryReceipts("k:v")
	got[0].ResultPayload[0] = 'X'
	again := c.QueryReceipts("k:v")
	if string(again[0].ResultPayload) != "orig" {
		t.Fatalf("internal payload mutated through returned copy")
	}
	if err := c.VerifyIntegrity(); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

func TestRestore_RebuildsIndexDeterministically(t *testing.T) {
	c := New("agent-1", "trace-1")
	for i := 0; i < 4; i++ {
		if err := c.AddReceipt(testutil.NewReceiptBuilder().Key("k:v").Build()); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	restored, err := Restore(c.Header(), c.Receipts(), c.Snapshots(), c.CoordinateEntries())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if err := restored.VerifyIntegrity(); err != nil {
		t.Fatalf("restored container failed verification: %v", err)
	}
	want := c.QueryReceipts("k:v")
	got := restored.QueryReceipts("k:v")
	if len(want) != len(got) {
		t.Fatalf("restored index differs: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ReceiptID != got[i].ReceiptID {
			t.Fatalf("restored order differs at %d", i)
		}
	}
	restored.RebuildIndex()
	if got := restored.QueryReceipts("k:v"); len(got) != len(want) {
		t.Fatalf("rebuild lost receipts")
	}
}

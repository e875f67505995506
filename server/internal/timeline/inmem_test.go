package timeline

import (
	"context"
	"testing"

	"presip-lab/server/internal/model"
)

// TestInMemoryStoreAppendAssignsSeq 验证 Append 方法为事件分配正确的 seq。
// 场景：连续追加两个事件，验证 seq 递增。
func TestInMemoryStoreAppendAssignsSeq(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, err := store.Append(ctx, "s1", &model.Event{Type: "send_message"})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("expected seq 1, got %d", seq1)
	}

	seq2, err := store.Append(ctx, "s1", &model.Event{Type: "send_message"})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected seq 2, got %d", seq2)
	}
}

// TestInMemoryStoreAppendIdempotentByEventID 验证 Append 方法对相同 EventID 的幂等性。
// 场景：追加两个具有相同 EventID 的事件，验证返回的 seq 相同且只存储一个事件。
func TestInMemoryStoreAppendIdempotentByEventID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, err := store.Append(ctx, "s1", &model.Event{Type: "send_message", EventID: "evt-1"})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	seq2, err := store.Append(ctx, "s1", &model.Event{Type: "send_message", EventID: "evt-1"})
	if err != nil {
		t.Fatalf("append duplicate event: %v", err)
	}
	if seq2 != seq1 {
		t.Fatalf("expected same seq for duplicate event_id, got %d vs %d", seq1, seq2)
	}

	events, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event stored, got %d", len(events))
	}
}

// TestInMemoryStoreListReturnsCopy 验证 List 方法返回事件切片的副本，防止外部修改影响内部状态。
// 场景：修改返回的事件切片，验证内部存储未受影响。
func TestInMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", &model.Event{Type: "send_message", Text: "hi"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	events[0].Type = "mutated"

	eventsAgain, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events again: %v", err)
	}
	if eventsAgain[0].Type != "send_message" {
		t.Fatalf("expected internal data unchanged, got %q", eventsAgain[0].Type)
	}
}

// TestInMemoryStoreListSince 验证增量拉取只返回 seq 之后的事件。
// 场景：追加三个事件，从 seq=1 之后拉取应得到 2、3；越界时返回空切片。
func TestInMemoryStoreListSince(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, typ := range []string{"select_role", "select_scenario", "send_message"} {
		if _, err := store.Append(ctx, "s1", &model.Event{Type: typ, Options: []string{"A"}}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	events, err := store.ListSince(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
	events[0].Options[0] = "mutated"
	again, _ := store.ListSince(ctx, "s1", 1)
	if again[0].Options[0] != "A" {
		t.Fatalf("expected options copied, got %q", again[0].Options[0])
	}

	empty, err := store.ListSince(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list since out of range: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events, got %d", len(empty))
	}
	if other, _ := store.List(ctx, "s2"); len(other) != 0 {
		t.Fatalf("expected sessions isolated, got %d", len(other))
	}
}

// TestInMemoryStoreListSinceBounds 验证游标边界。
// 场景：after 恰好等于末尾返回非 nil 空切片；负数等同于 0；未知会话返回空。
func TestInMemoryStoreListSinceBounds(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for _, typ := range []string{"select_role", "select_scenario", "send_message"} {
		if _, err := store.Append(ctx, "s1", &model.Event{Type: typ}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := store.ListSince(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 || events[1].Type != "send_message" {
		t.Fatalf("unexpected events: %+v", events)
	}

	events, err = store.ListSince(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", events)
	}

	events, _ = store.ListSince(ctx, "s1", -5)
	if len(events) != 3 {
		t.Fatalf("expected all events for negative cursor, got %d", len(events))
	}

	events, _ = store.ListSince(ctx, "unknown", 0)
	if len(events) != 0 {
		t.Fatalf("expected no events for unknown session, got %d", len(events))
	}
}

// TestInMemoryStoreDelete 删除后该会话重新从 seq=1 开始，其它会话不受影响。
func TestInMemoryStoreDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"s1", "s1", "s2"} {
		if _, err := store.Append(ctx, id, &model.Event{Type: "select_role"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete unknown session should be a no-op, got %v", err)
	}
	if events, _ := store.List(ctx, "s1"); len(events) != 0 {
		t.Fatalf("expected s1 cleared, got %d", len(events))
	}
	if events, _ := store.List(ctx, "s2"); len(events) != 1 {
		t.Fatalf("expected s2 untouched, got %d", len(events))
	}
	seq, _ := store.Append(ctx, "s1", &model.Event{Type: "session_created"})
	if seq != 1 {
		t.Fatalf("expected seq restart at 1, got %d", seq)
	}
}

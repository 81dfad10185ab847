package json

import (
	"context"
	"strings"
	"testing"
)

func collect(t *testing.T, payload string) ([]map[string]any, []int) {
	t.Helper()

	var skipped []int
	records, err := CollectRecords(context.Background(), strings.NewReader(payload), func(i int, _ string) {
		skipped = append(skipped, i)
	})
	if err != nil {
		t.Fatalf("CollectRecords: %v", err)
	}
	return records, skipped
}

func TestStreamRecords_RootArray(t *testing.T) {
	t.Parallel()

	records, skipped := collect(t, `[{"a": 1}, {"a": 2}, {"a": 3}]`)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[1]["a"] != 2.0 {
		t.Fatalf("unexpected second record: %#v", records[1])
	}
	if len(skipped) != 0 {
		t.Fatalf("nothing should be skipped: %v", skipped)
	}
}

func TestStreamRecords_SkipsNonObjectElements(t *testing.T) {
	t.Parallel()

	records, skipped := collect(t, `[{"a": 1}, "noise", 42, null, {"a": 2}]`)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if len(skipped) != 3 {
		t.Fatalf("skipped = %v, want 3 skips", skipped)
	}
}

func TestStreamRecords_EnvelopeObject(t *testing.T) {
	t.Parallel()

	payload := `{
		"meta": {"source": "export"},
		"items": [{"id": 1}, {"id": 2}],
		"total": 2
	}`

	records, _ := collect(t, payload)
	if len(records) != 2 {
		t.Fatalf("envelope records = %d, want 2", len(records))
	}
	if records[0]["id"] != 1.0 {
		t.Fatalf("unexpected first record: %#v", records[0])
	}
}

func TestStreamRecords_SingleObject(t *testing.T) {
	t.Parallel()

	records, _ := collect(t, `{"name": "Ann", "address": {"city": "Oslo"}}`)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	addr, ok := records[0]["address"].(map[string]any)
	if !ok || addr["city"] != "Oslo" {
		t.Fatalf("nested values must be materialized: %#v", records[0])
	}
}

func TestStreamRecords_ScalarArrayFieldIsNotAnEnvelope(t *testing.T) {
	t.Parallel()

	records, skipped := collect(t, `{"id": 1, "tags": ["x", "y"]}`)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0]["id"] != 1.0 {
		t.Fatalf("unexpected record: %#v", records[0])
	}
	tags, ok := records[0]["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "x" {
		t.Fatalf("array field must be kept on the record: %#v", records[0])
	}
	if len(skipped) != 0 {
		t.Fatalf("nothing should be skipped: %v", skipped)
	}
}

func TestStreamRecords_EmptyArrayFieldIsNotAnEnvelope(t *testing.T) {
	t.Parallel()

	records, _ := collect(t, `{"id": 1, "tags": []}`)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	tags, ok := records[0]["tags"].([]any)
	if !ok || len(tags) != 0 {
		t.Fatalf("empty array field must survive: %#v", records[0])
	}
}

func TestStreamRecords_ScalarArrayBeforeRecordArray(t *testing.T) {
	t.Parallel()

	payload := `{"tags": ["x"], "items": [{"id": 1}, {"id": 2}]}`

	records, _ := collect(t, payload)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0]["id"] != 1.0 || records[1]["id"] != 2.0 {
		t.Fatalf("unexpected records: %#v", records)
	}
}

func TestStreamRecords_TrailingJSONL(t *testing.T) {
	t.Parallel()

	records, _ := collect(t, `{"a": 1}
{"a": 2}
{"a": 3}`)
	if len(records) != 3 {
		t.Fatalf("jsonl records = %d, want 3", len(records))
	}
}

func TestStreamRecords_EmptyInput(t *testing.T) {
	t.Parallel()

	records, _ := collect(t, "")
	if len(records) != 0 {
		t.Fatalf("empty input must yield no records: %v", records)
	}
}

func TestStreamRecords_ScalarRootRejected(t *testing.T) {
	t.Parallel()

	_, err := CollectRecords(context.Background(), strings.NewReader(`42`), nil)
	if err == nil {
		t.Fatalf("scalar root must be rejected")
	}
}

func TestStreamRecords_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan map[string]any) // unbuffered, nobody reads
	err := StreamRecords(ctx, strings.NewReader(`[{"a": 1}]`), out, nil)
	if err == nil {
		t.Fatalf("canceled context must abort the stream")
	}
}

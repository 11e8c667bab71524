package bepsilon

import (
	"bytes"
	"testing"
)

func TestInjectMessage_CollapseRules(t *testing.T) {
	testCases := []struct {
		name     string
		existing []Message
		incoming Message
		want     []Message
	}{
		{
			name:     "insert into empty buffer",
			existing: nil,
			incoming: Message{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")},
			want:     []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")}},
		},
		{
			name:     "insert over pending delete revives the key",
			existing: []Message{{Opcode: OpDelete, Key: []byte("a")}},
			incoming: Message{Opcode: OpInsert, Key: []byte("a"), Value: []byte("2")},
			want:     []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("2")}},
		},
		{
			name:     "delete over pending insert annihilates",
			existing: []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")}},
			incoming: Message{Opcode: OpDelete, Key: []byte("a")},
			want:     nil,
		},
		{
			name:     "repeated insert overwrites value",
			existing: []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")}},
			incoming: Message{Opcode: OpInsert, Key: []byte("a"), Value: []byte("2")},
			want:     []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("2")}},
		},
		{
			name:     "repeated delete is idempotent",
			existing: []Message{{Opcode: OpDelete, Key: []byte("a")}},
			incoming: Message{Opcode: OpDelete, Key: []byte("a")},
			want:     []Message{{Opcode: OpDelete, Key: []byte("a")}},
		},
		{
			name:     "new key inserts in sorted position",
			existing: []Message{{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")}, {Opcode: OpInsert, Key: []byte("c"), Value: []byte("3")}},
			incoming: Message{Opcode: OpInsert, Key: []byte("b"), Value: []byte("2")},
			want: []Message{
				{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")},
				{Opcode: OpInsert, Key: []byte("b"), Value: []byte("2")},
				{Opcode: OpInsert, Key: []byte("c"), Value: []byte("3")},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := injectMessage(tc.existing, tc.incoming)
			assertMessagesEqual(t, got, tc.want)
		})
	}
}

func TestLookupMessage(t *testing.T) {
	buf := []Message{
		{Opcode: OpInsert, Key: []byte("a"), Value: []byte("1")},
		{Opcode: OpDelete, Key: []byte("b")},
	}

	if m, ok := lookupMessage(buf, []byte("a")); !ok || m.Opcode != OpInsert {
		t.Fatalf("lookupMessage(a) = %+v, %v", m, ok)
	}
	if m, ok := lookupMessage(buf, []byte("b")); !ok || m.Opcode != OpDelete {
		t.Fatalf("lookupMessage(b) = %+v, %v", m, ok)
	}
	if _, ok := lookupMessage(buf, []byte("z")); ok {
		t.Fatal("lookupMessage(z) found a message that was never inserted")
	}
}

func TestDrainPrefixSuffix(t *testing.T) {
	buf := []Message{
		{Key: []byte("a")}, {Key: []byte("b")}, {Key: []byte("c")}, {Key: []byte("d")},
	}

	prefix := drainPrefix(&buf, []byte("c"))
	assertKeysEqual(t, prefix, []string{"a", "b"})
	assertKeysEqual(t, buf, []string{"c", "d"})

	buf2 := []Message{
		{Key: []byte("a")}, {Key: []byte("b")}, {Key: []byte("c")}, {Key: []byte("d")},
	}
	suffix := drainSuffix(&buf2, []byte("c"))
	assertKeysEqual(t, suffix, []string{"c", "d"})
	assertKeysEqual(t, buf2, []string{"a", "b"})
}

func TestPartitionBySeparators(t *testing.T) {
	buf := []Message{
		{Key: []byte("a")}, {Key: []byte("c")}, {Key: []byte("e")}, {Key: []byte("g")},
	}
	seps := [][]byte{[]byte("c"), []byte("f")}

	parts := partitionBySeparators(buf, seps)
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	assertKeysEqual(t, parts[0], []string{"a"})
	assertKeysEqual(t, parts[1], []string{"c", "e"})
	assertKeysEqual(t, parts[2], []string{"g"})
}

func assertMessagesEqual(t *testing.T, got, want []Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d (%+v vs %+v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i].Opcode != want[i].Opcode || !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Fatalf("message %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func assertKeysEqual(t *testing.T, got []Message, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if string(got[i].Key) != want[i] {
			t.Fatalf("key %d: got %q, want %q", i, got[i].Key, want[i])
		}
	}
}

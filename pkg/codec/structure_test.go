package codec

import "testing"

// TestStructureSetup verifies the basic package structure is correct
func TestStructureSetup(t *testing.T) {
	// Test that we can create a codec
	codec := NewRecordCodec()
	if codec == nil {
		t.Error("NewRecordCodec returned nil")
	}

	// Test that we can create a record
	record := NewRecord([]byte("key"), []byte("value"))
	if record == nil {
		t.Error("NewRecord returned nil")
	}

	// Test basic field assignments
	if record.KeySize != 3 {
		t.Errorf("Expected KeySize 3, got %d", record.KeySize)
	}

	if record.ValueSize != 5 {
		t.Errorf("Expected ValueSize 5, got %d", record.ValueSize)
	}

	// Test size calculation
	expectedSize := 20 + 3 + 5 // header + key + value
	if record.Size() != expectedSize {
		t.Errorf("Expected size %d, got %d", expectedSize, record.Size())
	}
}

// TestEncodeDecodeValidate verifies the full round trip works end to end
func TestEncodeDecodeValidate(t *testing.T) {
	codec := NewRecordCodec()

	encoded, err := codec.Encode([]byte("key"), []byte("value"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	record, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if err := record.Validate(); err != nil {
		t.Errorf("Validate failed on a freshly encoded record: %v", err)
	}

	// Decode should reject data too short to hold a header.
	if _, err := codec.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Expected decode to reject undersized data")
	}
}

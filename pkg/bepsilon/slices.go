package bepsilon

// Small helpers for the insert/remove-at-index slice surgery the
// structural operations do constantly. Kept separate from the algorithms
// themselves so split/borrow/merge read as tree manipulation, not slice
// bookkeeping.

func insertKeyAt(keys [][]byte, ix int, key []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[ix+1:], keys[ix:])
	keys[ix] = key
	return keys
}

func removeKeyAt(keys [][]byte, ix int) [][]byte {
	return append(keys[:ix], keys[ix+1:]...)
}

func insertValueAt(values [][]byte, ix int, value []byte) [][]byte {
	values = append(values, nil)
	copy(values[ix+1:], values[ix:])
	values[ix] = value
	return values
}

func removeValueAt(values [][]byte, ix int) [][]byte {
	return append(values[:ix], values[ix+1:]...)
}

func insertHandleAt(handles []NodeHandle, ix int, h NodeHandle) []NodeHandle {
	handles = append(handles, NilHandle)
	copy(handles[ix+1:], handles[ix:])
	handles[ix] = h
	return handles
}

func removeHandleAt(handles []NodeHandle, ix int) []NodeHandle {
	return append(handles[:ix], handles[ix+1:]...)
}

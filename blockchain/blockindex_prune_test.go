package blockchain

import "testing"

// TestPrunableFilesRespectsHighWaterMark verifies that recordFileHeight
// tracks the highest block height stored in each flat file and that
// prunableFiles only returns files whose entire contents sit at or below
// the requested height, taking every file it returns out of further
// consideration (spec.md §4.D's "enumerate files whose highest contained
// block height ≤ H").
func TestPrunableFilesRespectsHighWaterMark(t *testing.T) {
	bi := newBlockIndex()
	chain := buildTestChain(12, 600)

	// File 0 holds heights 0-4, file 1 holds heights 5-9, file 2 holds
	// heights 10-11 (still growing).
	for i, node := range chain {
		switch {
		case i <= 4:
			node.fileNum = 0
		case i <= 9:
			node.fileNum = 1
		default:
			node.fileNum = 2
		}
		bi.recordFileHeight(node)
	}

	prunable := bi.prunableFiles(9)
	if len(prunable) != 2 {
		t.Fatalf("got %d prunable files, want 2 (file 0 and file 1)", len(prunable))
	}
	if _, ok := prunable[0]; !ok {
		t.Fatalf("expected file 0 to be prunable at height 9")
	}
	if _, ok := prunable[1]; !ok {
		t.Fatalf("expected file 1 to be prunable at height 9")
	}
	if _, ok := prunable[2]; ok {
		t.Fatalf("file 2's highest height is 11, should not be prunable at 9")
	}

	// A second call at the same or a higher height must not return files
	// already handed out once.
	if again := bi.prunableFiles(9); len(again) != 0 {
		t.Fatalf("expected prunableFiles to stop tracking files it already returned, got %v", again)
	}
}

// TestClearFileLocationClearsStatusAndMarksDirty verifies clearFileLocation
// clears HAVE_DATA/HAVE_UNDO and zeroes every location field, and marks the
// node dirty so the persistence layer picks up the change (spec.md §4.D's
// per-entry pruning step, invariant 7).
func TestClearFileLocationClearsStatusAndMarksDirty(t *testing.T) {
	bi := newBlockIndex()
	chain := buildTestChain(1, 600)
	node := chain[0]

	node.status |= statusDataStored | statusUndoStored
	node.fileNum, node.fileOffset, node.fileLen = 3, 128, 512
	node.undoFileNum, node.undoOffset, node.undoLen = 3, 640, 96

	bi.clearFileLocation(node)

	if node.status.HaveData() || node.status.HaveUndo() {
		t.Fatalf("expected HAVE_DATA/HAVE_UNDO to be cleared, got status %v", node.status)
	}
	if node.fileNum != 0 || node.fileOffset != 0 || node.fileLen != 0 {
		t.Fatalf("expected block location fields to be zeroed, got fileNum=%d offset=%d len=%d",
			node.fileNum, node.fileOffset, node.fileLen)
	}
	if node.undoFileNum != 0 || node.undoOffset != 0 || node.undoLen != 0 {
		t.Fatalf("expected undo location fields to be zeroed, got fileNum=%d offset=%d len=%d",
			node.undoFileNum, node.undoOffset, node.undoLen)
	}

	dirty := bi.dirtyNodes()
	if len(dirty) != 1 || dirty[0] != node {
		t.Fatalf("expected clearFileLocation to mark the node dirty, got %v", dirty)
	}
}

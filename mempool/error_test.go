package mempool

import "testing"

func TestTxRuleErrorBanScore(t *testing.T) {
	tests := []struct {
		code RejectCode
		want uint32
	}{
		{ErrNonStandard, 0},
		{ErrInsufficientFee, 0},
		{ErrTooManyAncestors, 0},
		{ErrTooManyDescendants, 0},
		{ErrAlreadyKnown, 10},
		{ErrMissingInputs, 10},
		{ErrConflict, 10},
		{ErrInvalid, 100},
	}

	for _, tc := range tests {
		err := txRuleError(tc.code, "test")
		if err.BanScore != tc.want {
			t.Fatalf("txRuleError(%v).BanScore = %d, want %d", tc.code, err.BanScore, tc.want)
		}
		if err.RejectCode != tc.code {
			t.Fatalf("txRuleError(%v).RejectCode = %v, want %v", tc.code, err.RejectCode, tc.code)
		}
		if err.Error() != "test" {
			t.Fatalf("Error() = %q, want %q", err.Error(), "test")
		}
	}
}

func TestIsTxRuleError(t *testing.T) {
	err := txRuleError(ErrNonStandard, "bad script")

	if !IsTxRuleError(err, ErrNonStandard) {
		t.Fatalf("expected IsTxRuleError to match the same code")
	}
	if IsTxRuleError(err, ErrConflict) {
		t.Fatalf("expected IsTxRuleError to reject a different code")
	}
	if IsTxRuleError(nil, ErrNonStandard) {
		t.Fatalf("expected IsTxRuleError(nil, ...) to be false")
	}

	var plain error
	if IsTxRuleError(plain, ErrNonStandard) {
		t.Fatalf("expected a non-TxRuleError error to not match")
	}
}

func TestRejectCodeString(t *testing.T) {
	if got := ErrNonStandard.String(); got != "ErrNonStandard" {
		t.Fatalf("ErrNonStandard.String() = %q", got)
	}

	unknown := RejectCode(999)
	if got := unknown.String(); got == "" {
		t.Fatalf("expected a non-empty fallback string for an unknown code")
	}
}

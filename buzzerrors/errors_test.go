package buzzerrors

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plan", Plan("missing table %q", "test"), KindPlan},
		{"io", IO("get_range failed"), KindIO},
		{"execution", Execution("reader error"), KindExecution},
		{"internal", Internal("zero partitions"), KindInternal},
		{"remote fail", RemoteFail("scanner %s failed", "s1"), KindRemoteFail},
		{"unmarked", fmt.Errorf("plain"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	err := errors.Wrap(IO("underlying read failure"), "scanning file_0.parquet")
	if !IsIO(err) {
		t.Errorf("expected wrapped error to classify as IO, got %v", Classify(err))
	}
}

func TestWrapPreservesMessage(t *testing.T) {
	underlying := fmt.Errorf("connection reset")
	err := WrapIO(underlying)
	if !IsIO(err) {
		t.Errorf("expected WrapIO to classify as IO, got %v", Classify(err))
	}
	if got := err.Error(); got != "connection reset" {
		t.Errorf("Error() = %q, want %q", got, "connection reset")
	}
}

func TestWrapNil(t *testing.T) {
	if WrapIO(nil) != nil {
		t.Errorf("WrapIO(nil) should be nil")
	}
	if WrapExecution(nil) != nil {
		t.Errorf("WrapExecution(nil) should be nil")
	}
}

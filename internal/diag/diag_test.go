package diag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportOnlyOnce(t *testing.T) {
	var got []*Diagnostic
	sink := SinkFunc(func(d *Diagnostic) { got = append(got, d) })

	d := New(KindNoRule, "no rule for action", nil)
	Report(sink, d)
	Report(sink, d)

	assert.Len(t, got, 1)
}

func TestWrapPreservesKind(t *testing.T) {
	base := New(KindAmbiguousMatch, "rules a and b both match", nil)
	wrapped := Wrap(base, "while matching rule a to action update on target foo")
	assert.Equal(t, KindAmbiguousMatch, wrapped.Kind)
	assert.True(t, errors.Is(wrapped, base), "expected errors.Is to find the original diagnostic in the chain")
}

func TestWrapDefaultsUnknownErrorsToFailed(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "while executing target foo")
	assert.Equal(t, KindFailed, wrapped.Kind)
}

func TestKindStringRoundTrip(t *testing.T) {
	cases := map[Kind]string{
		KindParseError:      "parse_error",
		KindSrcRootMismatch: "src_root_mismatch",
		KindMetaOpMismatch:  "meta_op_mismatch",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

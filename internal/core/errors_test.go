package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/piper-hub/synth-service/internal/core"
)

func TestFailureKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		kind string
	}{
		{core.ErrEmptyInput, core.KindEmptyInput},
		{core.ErrBackendUnavailable, core.KindBackendUnavailable},
		{core.ErrBackendNotReady, core.KindBackendNotReady},
		{core.ErrSynthesisAborted, core.KindSynthesisAborted},
		{core.ErrEncodingFailed, core.KindEncodingFailed},
		{core.ErrArgumentUnsatisfiable, core.KindArgumentUnsatisfiable},
		{errors.New("CUDA error: out of memory"), core.KindBackendFailure},
	}

	for _, testCase := range cases {
		assert.Equal(t, testCase.kind, core.FailureKind(testCase.err))
	}
}

func TestFailureKindSeesThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("normalize: %w", core.ErrEmptyInput)
	assert.Equal(t, core.KindEmptyInput, core.FailureKind(wrapped))

	doubleWrapped := fmt.Errorf("request failed: %w", wrapped)
	assert.Equal(t, core.KindEmptyInput, core.FailureKind(doubleWrapped))
}

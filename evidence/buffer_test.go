// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package evidence_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/evidence"
	"github.com/stretchr/testify/require"
)

func TestBufferReadiness(t *testing.T) {
	b, err := evidence.New(4, 10, "")
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, b.Push(fmt.Sprintf("Raw,%d", i)))
		require.False(t, b.IsReady())
	}
	require.Equal(t, evidence.Progress{Current: 3, Target: 4}, b.Progress())

	require.NoError(t, b.Push("Raw,3"))
	require.True(t, b.IsReady())

	// Readiness never regresses while pushing.
	for i := 4; i < 30; i++ {
		require.NoError(t, b.Push(fmt.Sprintf("Raw,%d", i)))
		require.True(t, b.IsReady())
		require.LessOrEqual(t, b.Len(), 10)
	}
}

func TestBufferSlidingWindow(t *testing.T) {
	const maxEpochs, extra = 5, 7

	b, err := evidence.New(2, maxEpochs, "")
	require.NoError(t, err)

	for i := range maxEpochs + extra {
		require.NoError(t, b.Push(fmt.Sprintf("epoch %d", i)))
		require.LessOrEqual(t, b.Len(), maxEpochs)
	}

	epochs := b.Epochs()
	require.Len(t, epochs, maxEpochs)
	for i, e := range epochs {
		require.Equal(t, []string{fmt.Sprintf("epoch %d", extra+i)}, e.Lines)
	}
}

func TestBufferClampsMaxEpochs(t *testing.T) {
	b, err := evidence.New(5, 3, "")
	require.NoError(t, err)
	require.Equal(t, 5, b.MaxEpochs())

	for i := range 5 {
		require.NoError(t, b.Push(fmt.Sprint(i)))
	}
	require.Equal(t, 5, b.Len())
	require.True(t, b.IsReady())
}

func TestBufferInvalidMinEpochs(t *testing.T) {
	_, err := evidence.New(0, 10, "")
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestBufferRejectsNonString(t *testing.T) {
	b, err := evidence.New(1, 2, "")
	require.NoError(t, err)

	for _, payload := range []any{42, nil, []byte("Raw,1"), map[string]any{}, []string{"Raw,1"}} {
		err := b.Push(payload)
		require.True(t, errors.IsKind(err, errors.PayloadInvalid), "%#v", payload)
	}
	require.Zero(t, b.Len())
}

func TestBufferEmptyMessage(t *testing.T) {
	b, err := evidence.New(2, 3, "# header\n")
	require.NoError(t, err)

	require.NoError(t, b.Push(""))
	require.Equal(t, []evidence.Epoch{{Lines: []string{""}}}, b.Epochs())
	require.False(t, b.IsReady())

	require.NoError(t, b.Push("Raw,1"))
	require.True(t, b.IsReady())
	require.Equal(t, "# header\n\nRaw,1", b.Serialize())
}

func TestBufferEpochsAreCopies(t *testing.T) {
	b, err := evidence.New(1, 2, "")
	require.NoError(t, err)
	require.NoError(t, b.Push("Raw,1\nRaw,2"))

	epochs := b.Epochs()
	epochs[0].Lines[0] = "Raw,forged"
	epochs[0].Lines = append(epochs[0].Lines, "Raw,3")

	require.Equal(t, []string{"Raw,1", "Raw,2"}, b.Epochs()[0].Lines)
	require.Equal(t, "Raw,1\nRaw,2", b.Serialize())
}

func TestBufferSerialize(t *testing.T) {
	header := "# header\n"

	b, err := evidence.New(1, 3, header)
	require.NoError(t, err)
	require.Equal(t, header, b.Serialize())

	require.NoError(t, b.Push("Raw,a,1\nRaw,a,2"))
	require.NoError(t, b.Push("Raw,b,1\r\nRaw,b,2\n"))
	require.Equal(t, []string{"Raw,b,1\r", "Raw,b,2", ""}, b.Epochs()[1].Lines)

	// Line bytes go out exactly as they came in.
	require.Equal(t, header+"Raw,a,1\nRaw,a,2\nRaw,b,1\r\nRaw,b,2\n", b.Serialize())

	b.Reset()
	require.Zero(t, b.Len())
	require.Equal(t, header, b.Serialize())

	empty, err := evidence.New(1, 1, "")
	require.NoError(t, err)
	require.Equal(t, "", empty.Serialize())
}

func TestBufferConcurrentPush(t *testing.T) {
	b, err := evidence.New(10, 50, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Push(fmt.Sprint(i)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 50, b.Len())
	require.Len(t, strings.Split(b.Serialize(), "\n"), 50)
}

func TestHeader(t *testing.T) {
	h := evidence.Header("14", "Google", "Pixel 8")

	require.True(t, strings.HasPrefix(h, "# \n# Header Description:\n"))
	require.Contains(t, h,
		"# Version: v2.0.0.1 Platform: 14 Manufacturer: Google Model: Pixel 8\n")
	require.Contains(t, h, "# Raw,ElapsedRealtimeMillis,TimeNanos,")
	require.True(t, strings.HasSuffix(h, "AgcDb,CarrierFrequencyHz\n# \n"))
}

package main

import (
	"testing"

	"github.com/danmuck/integractl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []string{"Insert card", "Processing"}, splitList(" Insert card, ,Processing"))
	require.Empty(t, splitList(""))
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

func TestWorkingBranchName(t *testing.T) {
	tests := []struct {
		feature string
		want    string
	}{
		{"Add user login", "conductor/add-user-login"},
		{"Fix   the -- thing!!", "conductor/fix-the-thing"},
		{"A very long feature description that keeps going and going and going", "conductor/a-very-long-feature-description-that-kee"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, workingBranchName(tt.feature), tt.feature)
	}
}

func TestPauseCommandRequiresRun(t *testing.T) {
	dir := t.TempDir()
	rootCmd.SetArgs([]string{"pause", "--project", dir})
	err := rootCmd.Execute()
	require.Error(t, err)

	s := store.New(dir)
	_, err = s.Init(store.InitOptions{Feature: "f"})
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"pause", "--project", dir})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, s.PauseRequested())
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := buildRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "extract-images", "finalize", "models"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	csv := "QuestionID,QueryText,Domain,Complexity,GoldSQL," +
		"gpt4_RAG_SQL,gpt4_RAG_Correctness,gpt4_RAG_ResultMatch,gpt4_RAG_UserRating,gpt4_RAG_VoiceUsed,gpt4_RAG_ChartRating,gpt4_RAG_AnalystChartChoice\n" +
		"1,q,d,easy,SELECT 1,SELECT 1,,,,,,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval.csv"), []byte(csv), 0o644))

	cfg := "dataset:\n" +
		"  canonicalPath: " + filepath.Join(dir, "eval.csv") + "\n" +
		"  workingPath: " + filepath.Join(dir, "eval_working.csv") + "\n" +
		"sqlite:\n" +
		"  path: " + filepath.Join(dir, "audit.db") + "\n" +
		"logging:\n" +
		"  level: error\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestModelsCommand(t *testing.T) {
	configPath := writeFixture(t)

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"models", "--config", configPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "1 questions in")
	assert.Contains(t, out.String(), "gpt4_RAG")
	assert.FileExists(t, filepath.Join(filepath.Dir(configPath), "eval_working.csv"))
}

func TestExtractCommand_MissingSource(t *testing.T) {
	configPath := writeFixture(t)

	root := buildRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"extract-images", "--config", configPath})

	assert.Error(t, root.Execute())
}

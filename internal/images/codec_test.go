package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Format_RoundTrip(t *testing.T) {
	tests := []struct {
		id   int
		base string
		rag  RAGType
	}{
		{0, "gpt4", RAG},
		{7, "gpt4", NoRAG},
		{123, "claude_v2", RAG},
		{42, "llama.3", NoRAG},
	}

	for _, tt := range tests {
		name := Format(tt.id, tt.base, tt.rag)
		meta, ok := Parse(name)
		require.True(t, ok, name)
		assert.Equal(t, tt.id, meta.QuestionID)
		assert.Equal(t, tt.base+"_"+string(tt.rag), meta.ModelName)
		assert.Equal(t, tt.rag, meta.RAGType)
		assert.Equal(t, name, meta.Filename)
	}
}

func TestParse_GreedyModelBase(t *testing.T) {
	meta, ok := Parse("chart_Q3_mixtral-8x7b-RAG.png")
	require.True(t, ok)
	assert.Equal(t, "mixtral-8x7b_RAG", meta.ModelName)
	assert.Equal(t, RAG, meta.RAGType)
}

func TestParse_RejectsWithoutPanicking(t *testing.T) {
	for _, name := range []string{
		"not_a_chart.png",
		"",
		"chart_Q_gpt4-RAG.png",
		"chart_Qx_gpt4-RAG.png",
		"chart_Q1_gpt4-rag.png",
		"chart_Q1_gpt4-RAG.jpg",
		"chart_Q1_-RAG.png",
		"prefix_chart_Q1_gpt4-RAG.png",
		"chart_Q99999999999999999999_gpt4-RAG.png",
	} {
		assert.NotPanics(t, func() {
			_, ok := Parse(name)
			assert.False(t, ok, name)
		})
	}
}

func TestSplitModelName(t *testing.T) {
	base, rag := SplitModelName("gpt4_RAG")
	assert.Equal(t, "gpt4", base)
	assert.Equal(t, RAG, rag)

	base, rag = SplitModelName("gpt4_NoRAG")
	assert.Equal(t, "gpt4", base)
	assert.Equal(t, NoRAG, rag)

	base, rag = SplitModelName("gpt4")
	assert.Equal(t, "gpt4", base)
	assert.Equal(t, NoRAG, rag)
}

package images

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type RAGType string

const (
	RAG   RAGType = "RAG"
	NoRAG RAGType = "NoRAG"
)

// Metadata describes one chart image as encoded in its file name.
type Metadata struct {
	QuestionID int     `json:"question_id"`
	ModelName  string  `json:"model_name"`
	RAGType    RAGType `json:"rag_type"`
	Filename   string  `json:"filename"`
}

// The model base is greedy, so "a-b-RAG" splits into base "a-b" and rag "RAG".
var filenamePattern = regexp.MustCompile(`^chart_Q(\d+)_(.+)-(NoRAG|RAG)\.png$`)

// Parse decodes a chart image file name. Names that do not follow the
// convention report false.
func Parse(filename string) (Metadata, bool) {
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return Metadata{}, false
	}

	id, err := strconv.Atoi(m[1])
	if err != nil {
		return Metadata{}, false
	}

	rag := RAGType(m[3])
	return Metadata{
		QuestionID: id,
		ModelName:  m[2] + "_" + string(rag),
		RAGType:    rag,
		Filename:   filename,
	}, true
}

func Format(questionID int, modelBase string, rag RAGType) string {
	return fmt.Sprintf("chart_Q%d_%s-%s.png", questionID, modelBase, rag)
}

// SplitModelName derives the model base and rag type from a logical model
// name such as "gpt4_RAG" or "gpt4_NoRAG". Names without either suffix are
// treated as NoRAG.
func SplitModelName(modelName string) (string, RAGType) {
	if base, ok := strings.CutSuffix(modelName, "_"+string(RAG)); ok {
		return base, RAG
	}
	if base, ok := strings.CutSuffix(modelName, "_"+string(NoRAG)); ok {
		return base, NoRAG
	}
	return modelName, NoRAG
}

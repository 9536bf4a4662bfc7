package models

const (
	// ContextSeparator joins retrieved passages inside the prompt.
	ContextSeparator = "\n---\n"

	// NoContextAnswer is returned without calling the language model when
	// retrieval produced nothing to ground an answer on.
	NoContextAnswer = "The answer to this question is not available in the provided information."
)

const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 200
	DefaultTopKInitial  = 25
	DefaultTopKFinal    = 5
	DefaultRRFOffset    = 60
)

// AnswerPromptTemplate takes the assembled context followed by the question.
var AnswerPromptTemplate = `You are an assistant answering questions about a document.
Use only the relevant information below. Provide a concise and accurate answer;
if the information does not contain the answer, say so.

Relevant Info:
%s

Query:
%s
`

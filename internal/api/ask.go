package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/Iriajul/LLM-model/internal/pipeline"
)

// maxQuestionLength bounds request bodies before they reach the model.
const maxQuestionLength = 2000

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer             string   `json:"answer"`
	SQL                string   `json:"sql"`
	Columns            []string `json:"columns"`
	Rows               [][]any  `json:"result_rows"`
	RowCount           int      `json:"row_count"`
	Truncated          bool     `json:"truncated"`
	Attempts           int      `json:"attempts"`
	Status             string   `json:"status"`
	DegradedFormatting bool     `json:"degraded_formatting"`
	Cached             bool     `json:"cached"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	question := strings.TrimSpace(request.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if utf8.RuneCountInString(question) > maxQuestionLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question exceeds the maximum length", false, map[string]any{"max_length": maxQuestionLength})
		return
	}

	result, err := deps.Pipeline.Ask(r.Context(), question)
	if err != nil {
		if result.Status == pipeline.StatusAborted {
			writeAborted(deps, w, r, result, err)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", "failed to answer the question", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:             result.Answer,
		SQL:                result.SQL,
		Columns:            result.Columns,
		Rows:               result.Rows,
		RowCount:           result.RowCount,
		Truncated:          result.Truncated,
		Attempts:           result.Attempts,
		Status:             string(result.Status),
		DegradedFormatting: result.Degraded,
		Cached:             result.Cached,
	})
}

func writeAborted(deps Dependencies, w http.ResponseWriter, r *http.Request, result pipeline.Result, err error) {
	code := string(result.AbortReason)
	message := "the question could not be answered"
	status := http.StatusUnprocessableEntity
	retryable := false

	switch result.AbortReason {
	case pipeline.AbortSchemaFetchFailed:
		status = http.StatusServiceUnavailable
		message = "schema metadata is unavailable"
		retryable = true
	case pipeline.AbortCorrectionExhausted:
		message = "no valid query could be produced for this question"
	case pipeline.AbortCancelled:
		message = "the request was cancelled before an answer was produced"
		retryable = true
	}

	if deps.Logger != nil && !errors.Is(err, pipeline.ErrCorrectionExhausted) {
		deps.Logger.WarnContext(r.Context(), "ask aborted", "reason", code, "error", err.Error())
	}

	writeError(r.Context(), w, status, code, message, retryable, map[string]any{
		"attempts": result.Attempts,
		"history":  result.History,
	})
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/queue"
	"github.com/poiesic/corpus/search"
)

type queryRequest struct {
	Query       string   `json:"query"`
	DocumentSet string   `json:"document_set"`
	Limit       int      `json:"limit"`
	MinScore    *float32 `json:"min_score"`
}

// minScore returns the requested threshold, or a negative sentinel that
// tells the retrieval service to use its configured default.
func (r *queryRequest) minScore() float32 {
	if r.MinScore == nil {
		return -1
	}
	return *r.MinScore
}

// handleTask reports the status of a task.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTask) {
			WriteError(w, http.StatusNotFound, "unknown task")
			return
		}
		s.logger.Error("task status failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	WriteJSON(w, http.StatusOK, toTaskResponse(task))
}

// handleSearch runs a synchronous similarity search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.retrieval.Search(r.Context(), req.Query, req.DocumentSet, req.Limit, req.minScore())
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			WriteError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.logger.Error("search failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}

	type hit struct {
		Filename    string  `json:"filename"`
		DocumentSet string  `json:"document_set"`
		Index       int     `json:"index"`
		Content     string  `json:"content"`
		Score       float32 `json:"score"`
	}
	hits := make([]hit, len(results))
	for i, res := range results {
		hits[i] = hit{
			Filename:    res.Chunk.Filename,
			DocumentSet: res.Chunk.DocumentSet,
			Index:       res.Chunk.Index,
			Content:     res.Chunk.Content,
			Score:       res.Score,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// handleAnswer submits an answer_question task; the synthesized answer
// lands in the task result.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "query is required")
		return
	}

	task, err := s.queue.Submit(r.Context(), core.TaskAnswerQuestion, core.TaskPayload{
		Query:       req.Query,
		DocumentSet: req.DocumentSet,
		Limit:       req.Limit,
	})
	if err != nil {
		s.logger.Error("task submit failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}
	WriteJSON(w, http.StatusAccepted, toTaskResponse(task))
}

type summarizeRequest struct {
	Filename    string `json:"filename"`
	DocumentSet string `json:"document_set"`
}

// handleSummarize submits a summarize task for a stored document.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := ReadJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" || req.DocumentSet == "" {
		WriteError(w, http.StatusBadRequest, "filename and document_set are required")
		return
	}

	task, err := s.queue.Submit(r.Context(), core.TaskSummarize, core.TaskPayload{
		Filename:    req.Filename,
		DocumentSet: req.DocumentSet,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidTask) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("task submit failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}
	WriteJSON(w, http.StatusAccepted, toTaskResponse(task))
}

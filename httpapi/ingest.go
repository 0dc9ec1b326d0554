package httpapi

import (
	"errors"
	"net/http"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/extract"
)

const maxUploadBytes = 64 << 20

// taskResponse is the JSON shape for submitted and queried tasks.
type taskResponse struct {
	Id          string `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
	EnqueuedAt  string `json:"enqueued_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toTaskResponse(task *core.Task) taskResponse {
	resp := taskResponse{
		Id:       task.Id,
		Kind:     string(task.Kind),
		State:    task.State.String(),
		Result:   task.Result,
		Error:    task.Error,
		Attempts: task.Attempts,
	}
	if !task.EnqueuedAt.IsZero() {
		resp.EnqueuedAt = task.EnqueuedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}
	if !task.CompletedAt.IsZero() {
		resp.CompletedAt = task.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return resp
}

// handleIngest accepts a multipart upload and submits an ingestion task.
// Re-uploading a document whose task is still running returns the running
// task instead of starting a second one.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	filename := header.Filename
	if filename == "" {
		WriteError(w, http.StatusBadRequest, "missing filename")
		return
	}

	documentSet := r.FormValue("document_set")
	if documentSet == "" || documentSet == core.DocumentSetAll {
		WriteError(w, http.StatusBadRequest, "document_set is required and must not be the reserved value")
		return
	}

	kind := core.TaskIngest
	switch r.FormValue("pipeline") {
	case "", extract.PipelineStandard.String():
	case extract.PipelineVLM.String():
		kind = core.TaskIngestVLM
	default:
		WriteError(w, http.StatusBadRequest, "unknown pipeline")
		return
	}

	// Join a running ingestion for the same document.
	if existing := s.inflightTask(r, documentSet, filename); existing != nil {
		WriteJSON(w, http.StatusAccepted, toTaskResponse(existing))
		return
	}

	if err := s.blobs.Put(r.Context(), documentSet, filename, file); err != nil {
		s.logger.Error("blob store failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	task, err := s.queue.Submit(r.Context(), kind, core.TaskPayload{
		Filename:    filename,
		DocumentSet: documentSet,
	})
	if err != nil {
		s.logger.Error("task submit failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	s.mu.Lock()
	s.inflight[ingestKey(documentSet, filename)] = task.Id
	s.mu.Unlock()

	WriteJSON(w, http.StatusAccepted, toTaskResponse(task))
}

// inflightTask returns the active ingestion task for a document, clearing
// stale entries whose task has finished or expired.
func (s *Server) inflightTask(r *http.Request, documentSet, filename string) *core.Task {
	key := ingestKey(documentSet, filename)

	s.mu.Lock()
	id, ok := s.inflight[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	task, err := s.queue.Status(r.Context(), id)
	if err != nil || task.State.Terminal() {
		s.mu.Lock()
		if s.inflight[key] == id {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
		return nil
	}
	return task
}

func ingestKey(documentSet, filename string) string {
	return documentSet + "\x00" + filename
}

// handleDocuments lists indexed documents with chunk counts.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	documentSet := r.URL.Query().Get("document_set")
	if documentSet == "" {
		documentSet = core.DocumentSetAll
	}

	infos, err := s.chunks.ListDocuments(r.Context(), documentSet)
	if err != nil {
		s.logger.Error("list documents failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	type documentResponse struct {
		Filename    string `json:"filename"`
		DocumentSet string `json:"document_set"`
		ChunkCount  int    `json:"chunk_count"`
	}
	out := make([]documentResponse, len(infos))
	for i, info := range infos {
		out[i] = documentResponse{
			Filename:    info.Filename,
			DocumentSet: info.DocumentSet,
			ChunkCount:  info.ChunkCount,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// handleDeleteDocument removes a document's chunks and blob.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentSet := r.PathValue("set")
	filename := r.PathValue("filename")
	if documentSet == "" || filename == "" {
		WriteError(w, http.StatusBadRequest, "missing document set or filename")
		return
	}

	deleted, err := s.pipeline.Remove(r.Context(), documentSet, filename)
	if err != nil {
		if errors.Is(err, core.ErrInvalidChunk) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("delete document failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"deleted_chunks": deleted})
}

// handleDeleteDocumentSet removes every document in a set.
func (s *Server) handleDeleteDocumentSet(w http.ResponseWriter, r *http.Request) {
	documentSet := r.PathValue("set")
	if documentSet == "" || documentSet == core.DocumentSetAll {
		WriteError(w, http.StatusBadRequest, "a concrete document set is required")
		return
	}

	infos, err := s.chunks.ListDocuments(r.Context(), documentSet)
	if err != nil {
		s.logger.Error("list documents failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to delete document set")
		return
	}

	var chunks int
	for _, info := range infos {
		deleted, err := s.pipeline.Remove(r.Context(), documentSet, info.Filename)
		if err != nil {
			s.logger.Error("delete document failed",
				"document_set", documentSet, "filename", info.Filename, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to delete document set")
			return
		}
		chunks += deleted
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"deleted_documents": len(infos),
		"deleted_chunks":    chunks,
	})
}

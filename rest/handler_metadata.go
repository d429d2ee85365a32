package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"go.uber.org/zap"
)

func (s *Server) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow definition")
		return
	}
	defer r.Body.Close()
	if err := s.metadata.SaveWorkflowDefinition(wf); err != nil {
		logger.Error("error saving workflow definition", zap.String("id", wf.ID), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, version, ok := definitionRef(w, r)
	if !ok {
		return
	}
	wf, err := s.metadata.GetWorkflowDefinition(id, version)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow definition not found")
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleSaveTaskDef(w http.ResponseWriter, r *http.Request) {
	var task model.TaskDefinition
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed task definition")
		return
	}
	defer r.Body.Close()
	if err := s.metadata.SaveTaskDefinition(task); err != nil {
		logger.Error("error saving task definition", zap.String("id", task.ID), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetTaskDef(w http.ResponseWriter, r *http.Request) {
	id, version, ok := definitionRef(w, r)
	if !ok {
		return
	}
	task, err := s.metadata.GetTaskDefinition(id, version)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "task definition not found")
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

func definitionRef(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	id := vars["id"]
	version, err := strconv.Atoi(vars["version"])
	if err != nil || id == "" {
		respondWithError(w, http.StatusBadRequest, "invalid definition reference")
		return "", 0, false
	}
	return id, version, true
}

package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/weftlabs/weft/logger"
	"github.com/weftlabs/weft/model"
	"github.com/weftlabs/weft/service"
	"go.uber.org/zap"
)

func (s *Server) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed run request")
		return
	}
	defer r.Body.Close()
	runID, err := s.runService.StartRun(req)
	if err != nil {
		logger.Error("error starting run", zap.String("workflow", req.WorkflowID), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"runId": runID})
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	status, err := s.runService.GetStatus(runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			respondWithError(w, http.StatusNotFound, "run not found")
			return
		}
		logger.Error("error reading run status", zap.String("runId", runID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error reading run status")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if err := s.runService.Cancel(runID); err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			respondWithError(w, http.StatusNotFound, "run not found")
			return
		}
		logger.Error("error cancelling run", zap.String("runId", runID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error cancelling run")
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleWaitRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	status, err := s.runService.Wait(r.Context(), runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			respondWithError(w, http.StatusNotFound, "run not found")
			return
		}
		respondWithError(w, http.StatusRequestTimeout, "run still in progress")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

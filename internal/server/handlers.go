package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/outreach"
	"github.com/sells-group/lead-pipeline/internal/score"
)

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discovery.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.stages.Discover.Run(r.Context(), req)
	if err != nil {
		zap.L().Error("server: discover failed", zap.String("location", req.Location), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "An error occurred")
		return
	}
	writeJSON(w, http.StatusOK, fulfillment{FulfillmentText: "STARTED", SessionID: res.SessionID})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrich.Request
	if !decode(w, r, &req) {
		return
	}
	job, err := req.Job()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// Ack first: the caller is usually the previous step.
	w.WriteHeader(http.StatusOK)
	s.background("enrich", func(ctx context.Context) error {
		_, err := s.stages.Enrich.Step(ctx, job)
		return err
	})
}

func (s *Server) handleBatchScore(w http.ResponseWriter, r *http.Request) {
	var req score.BatchRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.stages.Score.BatchScore(r.Context(), req)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error creating tasks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fulfillment{FulfillmentText: res.Message})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req score.Request
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.stages.Score.Score(r.Context(), req); err != nil {
		zap.L().Error("server: score failed",
			zap.String("session_id", req.SessionID),
			zap.String("website", req.Website),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	if req.Last() {
		s.background("finish", func(ctx context.Context) error {
			return s.stages.Score.Finish(ctx, req.SessionID, req.RecipientEmail)
		})
	}
}

func (s *Server) handleBatchLetters(w http.ResponseWriter, r *http.Request) {
	var req outreach.BatchRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.stages.Outreach.BatchLetters(r.Context(), req)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error creating tasks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fulfillment{FulfillmentText: res.Message})
}

func (s *Server) handleLetters(w http.ResponseWriter, r *http.Request) {
	var req outreach.LettersRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, fulfillment{FulfillmentText: "I am sending the letters"})

	s.background("letters", func(ctx context.Context) error {
		_, err := s.stages.Outreach.Letters(ctx, req)
		if errors.Is(err, outreach.ErrUnknownWebsite) {
			zap.L().Info("server: letters skipped, website not in session",
				zap.String("session_id", req.SessionID),
				zap.String("website", req.WebsiteCheck),
			)
			return nil
		}
		return err
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req outreach.SendRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.stages.Outreach.Send(r.Context(), req); err != nil {
		zap.L().Error("server: send failed", zap.String("email", req.Email), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Email is wrong")
		return
	}
	writeText(w, http.StatusOK, "Emails sent successfully.")
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	probs, err := s.stages.Score.Analysis(r.Context(), req.SessionID)
	if err != nil {
		zap.L().Error("server: analysis failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "analysis unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, fulfillment{FulfillmentText: probs})
}

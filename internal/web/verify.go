package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"

	apperrors "github.com/iamwavecut/antispambot/internal/errors"
	"github.com/iamwavecut/antispambot/internal/i18n"
	"github.com/iamwavecut/antispambot/internal/observability"
	"github.com/iamwavecut/antispambot/internal/verification"
)

type pageText struct {
	Title      string
	Invalid    string
	Submit     string
	Submitting string
	CapPending string
	CapSolved  string
	CapExpired string
	Success    string
	Failed     string
}

type pageData struct {
	Lang        string
	Invalid     bool
	Question    string
	CapEnabled  bool
	CapEndpoint string
	Text        pageText
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// submission accepts the answer as a JSON string or number.
type submission struct {
	Answer         json.RawMessage `json:"answer"`
	ChallengeToken string          `json:"challengeToken"`
	CapToken       string          `json:"capToken"`
}

func (s *Server) text() pageText {
	lang := s.cfg.Language
	return pageText{
		Title:      i18n.Get("Human verification", lang),
		Invalid:    i18n.Get("The verification link is invalid or has expired", lang),
		Submit:     i18n.Get("Submit answer", lang),
		Submitting: i18n.Get("Submitting...", lang),
		CapPending: i18n.Get("Complete the CAP challenge first to enable the answer field.", lang),
		CapSolved:  i18n.Get("✅ CAP challenge solved, you can submit the answer now.", lang),
		CapExpired: i18n.Get("The CAP challenge expired, please solve it again.", lang),
		Success:    i18n.Get("✅ Verified! You can go back to the group and chat as usual.", lang),
		Failed:     i18n.Get("Verification failed, please try again.", lang),
	}
}

func (s *Server) challengeRequired(req verification.Request) bool {
	return s.cfg.ChallengeEnabled && req.ChallengeRequired
}

func (s *Server) showChallenge(w http.ResponseWriter, req bunrouter.Request) error {
	data := pageData{Lang: s.cfg.Language, Text: s.text()}
	status := http.StatusOK

	pending, err := s.store.Lookup(req.Param("token"))
	if err != nil {
		data.Invalid = true
		status = http.StatusNotFound
	} else {
		data.Question = pending.Challenge.Question()
		data.CapEnabled = s.challengeRequired(pending)
		data.CapEndpoint = s.cfg.CapEndpoint
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		return fmt.Errorf("render verification page: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err = w.Write(buf.Bytes())
	return err
}

func (s *Server) submitAnswer(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()
	token := req.Param("token")
	lang := s.cfg.Language

	pending, err := s.store.Checkout(token)
	switch {
	case errors.Is(err, apperrors.ErrTokenBusy):
		return s.reject(w, http.StatusConflict, "busy", i18n.Get("This verification is already being processed, please wait.", lang))
	case err != nil:
		return s.reject(w, http.StatusBadRequest, "unknown_token", i18n.Get("The verification request is invalid or has expired", lang))
	}

	body, err := decodeSubmission(w, req.Request)
	if err != nil {
		s.store.Return(token)
		return s.reject(w, http.StatusBadRequest, "invalid_answer", i18n.Get("Invalid answer format", lang))
	}

	if s.challengeRequired(pending) {
		if err := s.verifyChallenge(ctx, body.challengeToken()); err != nil {
			s.store.Return(token)
			if errors.Is(err, apperrors.ErrChallengeNotCompleted) {
				return s.reject(w, http.StatusBadRequest, "challenge_missing", i18n.Get("Please complete the CAP challenge first", lang))
			}
			s.logger.Warn("challenge verification failed", zap.Int64("chat_id", pending.ChatID), zap.Int64("user_id", pending.UserID), zap.Error(err))
			return s.reject(w, http.StatusBadRequest, "challenge_failed", i18n.Get("CAP verification failed, please try again", lang))
		}
	}

	if err := checkAnswer(pending.Challenge, body.Answer); err != nil {
		s.store.Return(token)
		if errors.Is(err, apperrors.ErrAnswerMismatch) {
			return s.reject(w, http.StatusBadRequest, "wrong_answer", i18n.Get("Wrong answer, please check and try again", lang))
		}
		return s.reject(w, http.StatusBadRequest, "invalid_answer", i18n.Get("Invalid answer format", lang))
	}

	if err := s.members.UnrestrictMember(ctx, pending.ChatID, pending.UserID); err != nil {
		s.store.Return(token)
		s.logger.Error("failed to lift restriction", zap.Int64("chat_id", pending.ChatID), zap.Int64("user_id", pending.UserID), zap.Error(err))
		return s.reject(w, http.StatusInternalServerError, "unrestrict_failed", i18n.Get("Internal error while lifting the restriction", lang))
	}

	s.store.Consume(token)
	observability.RecordVerification("success")
	s.logger.Info("user verified", zap.Int64("chat_id", pending.ChatID), zap.Int64("user_id", pending.UserID), zap.String("username", pending.Username))
	return writeJSON(w, http.StatusOK, verifyResponse{Success: true})
}

func (s *Server) verifyChallenge(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChallengeTimeout)
	defer cancel()
	return s.verifier.Verify(ctx, token)
}

func (s *Server) reject(w http.ResponseWriter, status int, result, message string) error {
	observability.RecordVerification(result)
	return writeJSON(w, status, verifyResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return bunrouter.JSON(w, body)
}

func (b submission) challengeToken() string {
	if b.ChallengeToken != "" {
		return b.ChallengeToken
	}
	return b.CapToken
}

// decodeSubmission reads a JSON body, or falls back to form values.
func decodeSubmission(w http.ResponseWriter, r *http.Request) (submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body submission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return submission{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidAnswer, err)
		}
		return body, nil
	}

	if err := r.ParseForm(); err != nil {
		return submission{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidAnswer, err)
	}
	body := submission{
		ChallengeToken: r.PostForm.Get("challengeToken"),
		CapToken:       r.PostForm.Get("capToken"),
	}
	if answer := r.PostForm.Get("answer"); answer != "" {
		raw, err := json.Marshal(answer)
		if err != nil {
			return submission{}, err
		}
		body.Answer = raw
	}
	return body, nil
}

func checkAnswer(challenge verification.Challenge, raw json.RawMessage) error {
	answer, err := parseAnswer(raw)
	if err != nil {
		return err
	}
	if answer != challenge.Answer {
		return apperrors.ErrAnswerMismatch
	}
	return nil
}

func parseAnswer(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperrors.ErrInvalidAnswer
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidAnswer, err)
		}
	} else {
		text = string(raw)
	}

	answer, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidAnswer, err)
	}
	return answer, nil
}

// Package service is the entry point used by the CLI and the HTTP daemon.
// It binds the dispatcher to the credential pool and records completed
// translations in history and in the saved session.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/history"
	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/request"
	"github.com/minios-linux/glossa/settings"
)

// ErrEmptyImage marks a screenshot request without image bytes.
var ErrEmptyImage = errors.New("image is empty")

// SessionRecorder persists the last completed translation.
type SessionRecorder func(settings.Session) (settings.Session, error)

// Options configures optional collaborators. Nil fields disable the
// corresponding feature.
type Options struct {
	History  *history.Store
	Sessions SessionRecorder
	Logger   zerolog.Logger
}

// Result is a completed translation.
type Result struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	TargetLanguage string    `json:"target_language"`
	Translation    string    `json:"translation"`
	CreatedAt      time.Time `json:"created_at"`
}

type Service struct {
	pool     *keypool.Pool
	disp     *dispatch.Dispatcher
	history  *history.Store
	sessions SessionRecorder
	log      zerolog.Logger
}

func New(pool *keypool.Pool, disp *dispatch.Dispatcher, opts Options) *Service {
	return &Service{
		pool:     pool,
		disp:     disp,
		history:  opts.History,
		sessions: opts.Sessions,
		log:      opts.Logger.With().Str("component", "service").Logger(),
	}
}

// Translate translates text into targetLanguage.
func (s *Service) Translate(ctx context.Context, text, targetLanguage string) (Result, error) {
	req := request.BuildText(text, targetLanguage)
	out, err := s.disp.Dispatch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.record(ctx, req, out), nil
}

// TranslateScreenshot transcribes and translates the text in image. An
// empty mimeType is sniffed from the bytes.
func (s *Service) TranslateScreenshot(ctx context.Context, image []byte, mimeType, targetLanguage string) (Result, error) {
	if len(image) == 0 {
		return Result{}, &dispatch.Error{Kind: dispatch.KindEmptyInput, Message: ErrEmptyImage.Error(), Err: ErrEmptyImage}
	}
	req := request.BuildVision(image, mimeType, targetLanguage)
	out, err := s.disp.Dispatch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.record(ctx, req, out), nil
}

// Caption translates a caption fragment without recording it; captions
// are too numerous for history.
func (s *Service) Caption(ctx context.Context, text, targetLanguage string) (string, error) {
	return s.disp.Dispatch(ctx, request.BuildText(text, targetLanguage))
}

// Status reports per-key health.
func (s *Service) Status() []keypool.Status {
	return s.pool.Status()
}

// Reload rereads the key list, clearing all key health state.
func (s *Service) Reload() error {
	return s.pool.Load()
}

// Probe checks a single key against the API.
func (s *Service) Probe(ctx context.Context, key string) error {
	return s.disp.Probe(ctx, key)
}

// History returns up to limit recent translations, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

// record stores a completed translation. Storage failures are logged and
// never fail the translation itself.
func (s *Service) record(ctx context.Context, req *request.Request, translation string) Result {
	res := Result{
		Kind:           req.Kind.String(),
		TargetLanguage: req.TargetLanguage,
		Translation:    translation,
		CreatedAt:      time.Now().UTC(),
	}

	if s.history != nil {
		e, err := s.history.Add(ctx, history.Entry{
			Kind:           res.Kind,
			TargetLanguage: res.TargetLanguage,
			SourceText:     req.Source,
			Translation:    translation,
			CreatedAt:      res.CreatedAt,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("recording history failed")
		} else {
			res.ID = e.ID
		}
	}

	if s.sessions != nil {
		sess, err := s.sessions(settings.Session{
			ID:             res.ID,
			Kind:           res.Kind,
			TargetLanguage: res.TargetLanguage,
			SourceText:     req.Source,
			Translation:    translation,
			UpdatedAt:      res.CreatedAt,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("saving session failed")
		} else if res.ID == "" {
			res.ID = sess.ID
		}
	}
	return res
}

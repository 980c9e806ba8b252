// Package channel reads length-prefixed request frames from a byte
// stream, dispatches them to the annotation store and lock registry, and
// writes exactly one framed response per request, in order. One adapter
// instance serves exactly one caller end; request handling is strictly
// sequential, so no in-process synchronization is needed.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/editlock"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/schema"
	"github.com/starford/marginalia/internal/storage"
)

// Adapter serves the framed request/response protocol for one caller.
type Adapter struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	opTimeout time.Duration
	lockTTL   time.Duration

	// defaultRoot, when configured, is probed by ping so callers can
	// tell "host unreachable" from "host up but storage misconfigured".
	defaultRoot string

	// Last successful startEditing, released best-effort on stream close.
	heldRoot string
	heldUser string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithOpTimeout bounds each storage filesystem operation.
func WithOpTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.opTimeout = d }
}

// WithLockTTL sets the edit-marker expiry window.
func WithLockTTL(d time.Duration) Option {
	return func(a *Adapter) { a.lockTTL = d }
}

// WithDefaultRoot sets the configured storage root probed by ping.
func WithDefaultRoot(root string) Option {
	return func(a *Adapter) { a.defaultRoot = root }
}

// New creates an Adapter over the given stream ends.
func New(in io.Reader, out io.Writer, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		in:        in,
		out:       out,
		logger:    logger,
		opTimeout: storage.DefaultOpTimeout,
		lockTTL:   editlock.DefaultTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Serve runs the request loop until the caller closes its end of the
// stream (clean exit) or the stream breaks. No request failure ends the
// process; every failure is answered as a tagged response.
func (a *Adapter) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.releaseHeld()
			return ctx.Err()
		default:
		}

		raw, err := ReadFrame(a.in)
		if err != nil {
			a.releaseHeld()
			if errors.Is(err, io.EOF) {
				a.logger.Info("caller closed the channel, exiting")
				return nil
			}
			return err
		}

		resp, action := a.handle(raw)
		if err := schema.ValidateResponse(action, resp); err != nil {
			a.logger.Error("outbound response failed schema validation",
				slog.String("action", action), slog.String("error", err.Error()))
			resp = schema.Fail(apperr.New(apperr.IOError, "internal error building the %s response", action))
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			// Still answer: every request gets exactly one response.
			a.logger.Error("response encode failed", slog.String("error", err.Error()))
			payload, _ = json.Marshal(schema.Fail(apperr.New(apperr.IOError, "internal error encoding the %s response", action)))
		}
		if err := WriteFrame(a.out, payload); err != nil {
			a.releaseHeld()
			return err
		}
	}
}

// handle validates and dispatches one request. The returned action name
// is used for response-schema validation and logging; it is empty-safe.
func (a *Adapter) handle(raw []byte) (*schema.Response, string) {
	req, err := schema.ValidateRequest(raw)
	if err != nil {
		return schema.Fail(err), ""
	}

	var resp *schema.Response
	switch req.Action {
	case schema.ActionPing:
		resp = a.ping()
	case schema.ActionRead:
		resp = a.read(req)
	case schema.ActionSave:
		resp = a.save(req)
	case schema.ActionDelete:
		resp = a.delete(req)
	case schema.ActionStartEditing:
		resp = a.startEditing(req)
	case schema.ActionStopEditing:
		resp = a.stopEditing(req)
	case schema.ActionGetEditing:
		resp = a.getEditing(req)
	default:
		// Unreachable: ValidateRequest rejects unknown actions.
		resp = schema.Fail(apperr.New(apperr.UnknownAction, "unknown action %q", req.Action))
	}
	return resp, req.Action
}

func (a *Adapter) ping() *schema.Response {
	if a.defaultRoot != "" {
		fs, err := storage.NewFS(a.defaultRoot, a.opTimeout)
		if err != nil {
			return schema.Fail(err)
		}
		if !fs.Reachable() {
			return schema.Fail(apperr.New(apperr.IOError, "storage root %s is not reachable", a.defaultRoot))
		}
	}
	return schema.OK()
}

func (a *Adapter) read(req *schema.Request) *schema.Response {
	store, err := a.openStore(req.StoragePath, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			resp := schema.OK()
			resp.Annotations = []models.Annotation{}
			return resp
		}
		return schema.Fail(err)
	}
	anns, err := store.Read(req.Project, req.FilePath)
	if err != nil {
		return schema.Fail(err)
	}
	resp := schema.OK()
	resp.Annotations = anns
	return resp
}

func (a *Adapter) save(req *schema.Request) *schema.Response {
	store, err := a.openStore(req.StoragePath, true)
	if err != nil {
		return schema.Fail(err)
	}
	err = store.Save(req.Project, req.FilePath, annotations.SaveInput{
		Line:           req.Line,
		Author:         req.Author,
		Text:           req.Text,
		Context:        req.Context,
		SourceSnapshot: req.Source,
	})
	if err != nil {
		return schema.Fail(err)
	}
	return schema.OK()
}

func (a *Adapter) delete(req *schema.Request) *schema.Response {
	store, err := a.openStore(req.StoragePath, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.OK()
		}
		return schema.Fail(err)
	}
	if err := store.Delete(req.Project, req.FilePath, req.Line); err != nil {
		return schema.Fail(err)
	}
	return schema.OK()
}

func (a *Adapter) startEditing(req *schema.Request) *schema.Response {
	reg, err := a.openRegistry(req.StoragePath, true)
	if err != nil {
		return schema.Fail(err)
	}
	if err := reg.Start(req.User, req.FilePath, req.Line); err != nil {
		return schema.Fail(err)
	}
	a.heldRoot, a.heldUser = req.StoragePath, req.User
	return schema.OK()
}

func (a *Adapter) stopEditing(req *schema.Request) *schema.Response {
	reg, err := a.openRegistry(req.StoragePath, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.OK()
		}
		return schema.Fail(err)
	}
	if err := reg.Stop(req.User); err != nil {
		return schema.Fail(err)
	}
	if a.heldUser == req.User && a.heldRoot == req.StoragePath {
		a.heldRoot, a.heldUser = "", ""
	}
	return schema.OK()
}

func (a *Adapter) getEditing(req *schema.Request) *schema.Response {
	resp := schema.OK()
	resp.Editors = []schema.Editor{}
	reg, err := a.openRegistry(req.StoragePath, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return resp
		}
		return schema.Fail(err)
	}
	locks, err := reg.Editing()
	if err != nil {
		return schema.Fail(err)
	}
	for _, l := range locks {
		resp.Editors = append(resp.Editors, schema.Editor{
			User:     l.User,
			FilePath: l.File,
			Line:     l.Line,
		})
	}
	return resp
}

// releaseHeld clears the caller's last edit marker on stream close.
// Best-effort: if the process is killed instead, TTL expiry recovers it.
func (a *Adapter) releaseHeld() {
	if a.heldUser == "" {
		return
	}
	reg, err := a.openRegistry(a.heldRoot, false)
	if err == nil {
		if err := reg.Stop(a.heldUser); err != nil {
			a.logger.Warn("releasing edit marker failed",
				slog.String("user", a.heldUser), slog.String("error", err.Error()))
		}
	}
	a.heldRoot, a.heldUser = "", ""
}

// openStore opens the annotation store at root, optionally creating the
// root directory first (mutating actions).
func (a *Adapter) openStore(root string, create bool) (*annotations.Store, error) {
	fs, err := a.openFS(root, create)
	if err != nil {
		return nil, err
	}
	return annotations.NewStore(fs), nil
}

func (a *Adapter) openRegistry(root string, create bool) (*editlock.Registry, error) {
	fs, err := a.openFS(root, create)
	if err != nil {
		return nil, err
	}
	return editlock.NewRegistry(fs, a.lockTTL), nil
}

func (a *Adapter) openFS(root string, create bool) (*storage.FS, error) {
	if root == "" {
		return nil, apperr.New(apperr.ValidationError, "storagePath must not be empty")
	}
	if create {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.IOError, err, "create storage root %s: %v", root, err)
		}
	}
	return storage.NewFS(root, a.opTimeout)
}

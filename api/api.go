// Package api exposes the chat core over HTTP, standing in for the mobile
// UI shell: session start, the live message list, the three send paths and
// attachment retrieval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/chatmate/chatmate/api/validator"
	"github.com/chatmate/chatmate/chat"
)

// A View exposes the sync adapter's current published message list.
type View interface {
	Messages() []chat.Message
}

// An ObjectStore persists attachments and serves them back by key.
type ObjectStore interface {
	chat.ObjectStore
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
}

// API provides the REST endpoints for the application.
type API struct {
	Logger   *slog.Logger
	Identity chat.Identity
	Sender   chat.Sender
	View     View
	Objects  ObjectStore
	Location chat.LocationProvider
	Picker   chat.MediaPicker
	Val      *validator.Validator

	once sync.Once
	mux  *http.ServeMux

	mu       sync.Mutex
	composer *chat.Composer
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session", a.createSession)
	mux.HandleFunc("GET /messages", a.listMessages)
	mux.HandleFunc("POST /messages", a.createMessage)
	mux.HandleFunc("POST /messages/image", a.createImageMessage)
	mux.HandleFunc("POST /messages/location", a.createLocationMessage)
	mux.HandleFunc("POST /actions", a.dispatchAction)
	mux.HandleFunc("GET /objects/{key}", a.getObject)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// currentComposer returns the composer for the active session, or nil when
// no session has been started.
func (a *API) currentComposer() *chat.Composer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.composer
}

func (a *API) requireComposer(w http.ResponseWriter) *chat.Composer {
	c := a.currentComposer()
	if c == nil {
		a.respondError(w, http.StatusConflict, errors.New("no active session"), "Start a session first")
	}
	return c
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Name  string `json:"name" validate:"required"`
			Color string `json:"color" validate:"required,oneof=#090c08 #474056 #8a95a5 #b9c6ae"`
		}
		response struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
			Color  string `json:"color"`
		}
	)

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	session, err := chat.NewSession(r.Context(), a.Identity, body.Name, body.Color)
	if err != nil {
		a.respondError(w, http.StatusBadGateway, err, "Unable to sign in, try later again")
		return
	}

	composer := &chat.Composer{
		Session:  session,
		Sender:   a.Sender,
		Objects:  a.Objects,
		Location: a.Location,
		Picker:   a.Picker,
	}
	a.mu.Lock()
	a.composer = composer
	a.mu.Unlock()

	// Entry notice is best-effort: the session stands even when the feed
	// write fails.
	notice := fmt.Sprintf("%s has entered the chat", session.Name)
	if err := composer.SendSystem(r.Context(), notice); err != nil {
		a.Logger.Error("Could not send entry notice", "error", err.Error())
	}

	a.respond(w, http.StatusCreated, response{
		UserID: session.UserID,
		Name:   session.Name,
		Color:  session.Color,
	})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []chat.Message `json:"messages"`
	}

	msgs := a.View.Messages()
	if msgs == nil {
		msgs = []chat.Message{}
	}
	a.respond(w, http.StatusOK, response{
		Messages: msgs,
	})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Text string `json:"text" validate:"required"`
	}

	composer := a.requireComposer(w)
	if composer == nil {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	if err := composer.SendText(r.Context(), body.Text); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not send message")
		return
	}

	// The send is fire-and-forget: the message appears in the list once the
	// feed delivers it back.
	a.respond(w, http.StatusAccepted, struct{}{})
}

func (a *API) createImageMessage(w http.ResponseWriter, r *http.Request) {
	composer := a.requireComposer(w)
	if composer == nil {
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read image upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read image upload")
		return
	}

	img := chat.Image{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := composer.SendImage(r.Context(), img); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not upload image")
		return
	}

	a.respond(w, http.StatusAccepted, struct{}{})
}

func (a *API) createLocationMessage(w http.ResponseWriter, r *http.Request) {
	composer := a.requireComposer(w)
	if composer == nil {
		return
	}

	if err := composer.SendLocation(r.Context()); err != nil {
		a.respondSendError(w, err)
		return
	}
	a.respond(w, http.StatusAccepted, struct{}{})
}

func (a *API) dispatchAction(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Action string `json:"action" validate:"required,oneof=pick_image take_photo send_location cancel"`
	}

	composer := a.requireComposer(w)
	if composer == nil {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	actions := map[string]chat.Action{
		"pick_image":    chat.ActionPickImage,
		"take_photo":    chat.ActionTakePhoto,
		"send_location": chat.ActionSendLocation,
		"cancel":        chat.ActionCancel,
	}
	if err := composer.Dispatch(r.Context(), actions[body.Action]); err != nil {
		a.respondSendError(w, err)
		return
	}
	a.respond(w, http.StatusAccepted, struct{}{})
}

// respondSendError maps composer failures onto the user-facing notices: a
// denied permission is the user's call, everything else is an internal
// fault.
func (a *API) respondSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrPermissionDenied):
		a.respondError(w, http.StatusForbidden, err, "Permissions have not been granted")
	case errors.Is(err, chat.ErrNoPosition):
		a.respondError(w, http.StatusInternalServerError, err, "Error occurred while fetching location")
	default:
		a.respondError(w, http.StatusInternalServerError, err, "Could not send message")
	}
}

func (a *API) getObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	data, contentType, err := a.Objects.Get(r.Context(), key)
	if err != nil {
		a.respondError(w, http.StatusNotFound, err, fmt.Sprintf("No object with key %s", key))
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.Logger.Error("Could not write object body", "error", err.Error())
	}
}

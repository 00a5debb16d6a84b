package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

// labelRequest is the body of PUT /v1/lights/{selector}/label.
type labelRequest struct {
	Label *string `json:"label"`
}

// selectorParam parses the {selector} path segment, writing a 400 and
// returning false when it is invalid.
func selectorParam(w http.ResponseWriter, r *http.Request) (string, device.Selector, bool) {
	raw := chi.URLParam(r, "selector")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	sel, err := device.ParseSelector(raw)
	if err != nil {
		writeValidationError(w, err.Error())
		return raw, device.Selector{}, false
	}
	return raw, sel, true
}

// isForm reports whether the request body is form encoded rather than JSON.
func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// decodeJSON decodes the request body into v. An empty body leaves v zero.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleListLights returns every light matching the selector. No match is
// an empty list, not an error.
func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	_, sel, ok := selectorParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, device.Views(s.gw.List(sel), s.now()))
}

// handleSetState applies one state to every light matching the selector.
// The body is either JSON or a form with the same field names.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	raw, _, ok := selectorParam(w, r)
	if !ok {
		return
	}

	var u states.Update
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeBadRequest(w, "invalid form body")
			return
		}
		var err error
		if u, err = updateFromForm(r.PostForm); err != nil {
			writeValidationError(w, err.Error())
			return
		}
	} else if err := decodeJSON(r, &u); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.applier.ApplyOne(r.Context(), raw, u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetStates applies a bulk request.
func (s *Server) handleSetStates(w http.ResponseWriter, r *http.Request) {
	var req states.Request
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	resp, err := s.applier.Apply(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetLabel renames the matching lights. It counts against the
// client's configuration-change limit.
func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	_, sel, ok := selectorParam(w, r)
	if !ok {
		return
	}

	var req labelRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeBadRequest(w, "invalid form body")
			return
		}
		if vals, ok := r.PostForm["label"]; ok && len(vals) > 0 {
			req.Label = &vals[0]
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Label == nil {
		writeValidationError(w, "label is required")
		return
	}

	outcomes, err := s.gw.SetLabel(r.Context(), clientAddr(r), sel, *req.Label)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := states.Response{Results: make([]states.Result, 0, len(outcomes))}
	for _, o := range outcomes {
		res := states.Result{ID: o.ID.String(), Label: o.Label, Status: states.StatusOK}
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, gateway.ErrDeviceUnreachable):
			res.Status, res.Error = states.StatusTimedOut, o.Err.Error()
		default:
			res.Status, res.Error = states.StatusError, o.Err.Error()
		}
		resp.Results = append(resp.Results, res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// updateFromForm reads an Update from form values. Numeric fields that do
// not parse are reported as validation errors; range checks are left to
// the applier.
func updateFromForm(form url.Values) (states.Update, error) {
	var u states.Update
	str := func(key string) *string {
		if v, ok := form[key]; ok && len(v) > 0 {
			return &v[0]
		}
		return nil
	}
	num := func(key string) (*float64, error) {
		v := str(key)
		if v == nil {
			return nil, nil
		}
		f, err := strconv.ParseFloat(*v, 64)
		if err != nil {
			return nil, &states.ValidationError{Field: key, Reason: fmt.Sprintf("%q is not a number", *v)}
		}
		return &f, nil
	}

	u.Power = str("power")
	u.Color = str("color")

	var err error
	if u.Brightness, err = num("brightness"); err != nil {
		return u, err
	}
	if u.Duration, err = num("duration"); err != nil {
		return u, err
	}
	if u.Infrared, err = num("infrared"); err != nil {
		return u, err
	}
	if v := str("fast"); v != nil {
		fast, err := strconv.ParseBool(*v)
		if err != nil {
			return u, &states.ValidationError{Field: "fast", Reason: fmt.Sprintf("%q is not a boolean", *v)}
		}
		u.Fast = &fast
	}
	return u, nil
}

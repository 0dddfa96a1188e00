package httpapi

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/engine"
	"github.com/DoyleJ11/arena-sync/internal/render"
	"github.com/DoyleJ11/arena-sync/internal/shell"
	"github.com/DoyleJ11/arena-sync/internal/types"
)

//go:embed web/index.html
var indexHTML []byte

func Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func Join(sh *shell.Shell, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("bad json"))
			return
		}

		err := sh.Join(r.Context(), req.Name)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, engine.ErrInvalidName):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, shell.ErrAlreadyInSession):
			writeError(w, http.StatusConflict, err)
		default:
			logger.Warnw("join failed", "error", err)
			writeError(w, http.StatusBadGateway, err)
		}
	}
}

func Disconnect(sh *shell.Shell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := sh.Leave(r.Context())
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, shell.ErrNotInSession):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
	}
}

func State(sh *shell.Shell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sh.Overlay())
	}
}

// FramePNG serves the last rendered frame; ?scale=0.5 returns a smaller copy.
func FramePNG(sh *shell.Shell, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, _ := sh.Frame()
		if frame.PNG == nil {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}

		scale := 1.0
		if raw := r.URL.Query().Get("scale"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 || v > 1 {
				http.Error(w, "scale must be in (0, 1]", http.StatusBadRequest)
				return
			}
			scale = v
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if scale == 1 {
			_, _ = w.Write(frame.PNG)
			return
		}
		if err := render.EncodePNG(w, render.Scale(frame.Image, scale)); err != nil {
			logger.Warnw("encode scaled frame", "error", err)
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.ErrorResponse{Error: err.Error()})
}
